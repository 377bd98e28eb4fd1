package remote

import (
	"encoding/json"

	"codetrail/internal/models"
)

// ToCommitRow converts a local commit to its wire form. Sync metadata stays
// local: the caller sets Version explicitly when proposing an upsert.
func ToCommitRow(c *models.Commit, userID string) CommitRow {
	return CommitRow{
		ID:           c.CloudID,
		UserID:       userID,
		StartedAt:    c.StartedAt,
		ClosedAt:     c.ClosedAt,
		CloseReason:  string(c.CloseReason),
		FilesRead:    c.FilesRead,
		FilesChanged: c.FilesChanged,
		Project:      c.Project,
		Agent:        c.Agent,
		Title:        c.Title,
		Published:    c.Published,
		Hidden:       c.Hidden,
		DisplayOrder: c.DisplayOrder,
	}
}

// ToSessionRow converts a session. The caller supplies the (normalized)
// session id and the remote commit id the session belongs to.
func ToSessionRow(s *models.Session, id, commitID string) SessionRow {
	return SessionRow{
		ID:        id,
		CommitID:  commitID,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
}

// ToTurnRow converts a turn. Tool calls are marshalled opaquely; a marshal
// failure leaves the field absent rather than failing the row.
func ToTurnRow(t *models.Turn, id, sessionID string, seq int) TurnRow {
	row := TurnRow{
		ID:                   id,
		SessionID:            sessionID,
		Seq:                  seq,
		Role:                 string(t.Role),
		Content:              t.Content,
		Timestamp:            t.Timestamp,
		Model:                t.Model,
		TriggersVisualUpdate: t.TriggersVisualUpdate,
	}
	if len(t.ToolCalls) > 0 {
		if b, err := json.Marshal(t.ToolCalls); err == nil {
			row.ToolCalls = b
		}
	}
	return row
}

// FromCommitDetail rebuilds a local commit aggregate from a full remote
// record. The result carries the remote's version on both counters and
// status synced; the caller stamps LastSyncedAt.
func FromCommitDetail(d *CommitDetail) *models.Commit {
	c := &models.Commit{
		CloudID:      d.Commit.ID,
		StartedAt:    d.Commit.StartedAt,
		ClosedAt:     d.Commit.ClosedAt,
		CloseReason:  models.CloseReason(d.Commit.CloseReason),
		FilesRead:    d.Commit.FilesRead,
		FilesChanged: d.Commit.FilesChanged,
		Project:      d.Commit.Project,
		Agent:        d.Commit.Agent,
		Title:        d.Commit.Title,
		Published:    d.Commit.Published,
		Hidden:       d.Commit.Hidden,
		DisplayOrder: d.Commit.DisplayOrder,
		SyncStatus:   models.StatusSynced,
		CloudVersion: d.Commit.Version,
		LocalVersion: d.Commit.Version,
	}
	for i := range d.Sessions {
		c.Sessions = append(c.Sessions, FromSessionDetail(&d.Sessions[i]))
	}
	return c
}

// FromSessionDetail rebuilds a session with its turns in seq order (the
// service returns them ordered).
func FromSessionDetail(d *SessionDetail) models.Session {
	s := models.Session{
		ID:        d.Session.ID,
		StartedAt: d.Session.StartedAt,
		EndedAt:   d.Session.EndedAt,
	}
	for i := range d.Turns {
		s.Turns = append(s.Turns, FromTurnRow(&d.Turns[i]))
	}
	return s
}

// FromTurnRow rebuilds a turn. An undecodable tool_calls payload is treated
// as absent; it never rejects the turn.
func FromTurnRow(r *TurnRow) models.Turn {
	t := models.Turn{
		ID:                   r.ID,
		Role:                 models.Role(r.Role),
		Content:              r.Content,
		Timestamp:            r.Timestamp,
		Model:                r.Model,
		TriggersVisualUpdate: r.TriggersVisualUpdate,
	}
	if len(r.ToolCalls) > 0 {
		var calls []models.ToolCall
		if err := json.Unmarshal(r.ToolCalls, &calls); err == nil {
			t.ToolCalls = calls
		}
	}
	return t
}
