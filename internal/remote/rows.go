// Package remote implements the typed HTTPS client for the record service:
// multi-tenant storage of commits, sessions and turns with server-assigned
// version counters, soft deletes, and a usage quota endpoint.
//
// Wire rows are deliberately distinct from internal/models: the service
// speaks snake_case JSON and owns fields (user_id, version, updated_at,
// deleted_at) that have no local counterpart. transform.go holds the pure
// conversion functions between the two shapes.
package remote

import (
	"encoding/json"
	"time"
)

// CommitRow is the wire form of a commit record.
type CommitRow struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	ClosedAt     time.Time  `json:"closed_at"`
	CloseReason  string     `json:"close_reason"`
	FilesRead    []string   `json:"files_read,omitempty"`
	FilesChanged []string   `json:"files_changed,omitempty"`
	Project      string     `json:"project,omitempty"`
	Agent        string     `json:"agent,omitempty"`
	Title        string     `json:"title,omitempty"`
	Published    bool       `json:"published"`
	Hidden       bool       `json:"hidden"`
	DisplayOrder int        `json:"display_order"`
	Version      int64      `json:"version"`
	UpdatedAt    time.Time  `json:"updated_at,omitzero"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// SessionRow is the wire form of a session record.
type SessionRow struct {
	ID        string    `json:"id"`
	CommitID  string    `json:"commit_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// TurnRow is the wire form of a turn record. Seq preserves turn order within
// a session; ToolCalls is carried opaquely so a malformed payload can be
// isolated without rejecting the row.
type TurnRow struct {
	ID                   string          `json:"id"`
	SessionID            string          `json:"session_id"`
	Seq                  int             `json:"seq"`
	Role                 string          `json:"role"`
	Content              *string         `json:"content,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
	Model                string          `json:"model,omitempty"`
	ToolCalls            json.RawMessage `json:"tool_calls,omitempty"`
	TriggersVisualUpdate bool            `json:"triggers_visual_update,omitempty"`
}

// VersionInfo is the live version/last-write pair of a remote commit.
type VersionInfo struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deletion marks a remote soft-deleted commit.
type Deletion struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// SessionDetail bundles a session row with its ordered turns.
type SessionDetail struct {
	Session SessionRow `json:"session"`
	Turns   []TurnRow  `json:"turns"`
}

// CommitDetail is a full remote aggregate as returned by GetCommit.
type CommitDetail struct {
	Commit   CommitRow       `json:"commit"`
	Sessions []SessionDetail `json:"sessions"`
}

// UsageRow is the wire form of the quota projection.
type UsageRow struct {
	CommitCount int    `json:"commit_count"`
	CommitLimit int    `json:"commit_limit"`
	Tier        string `json:"tier"`
}

// TokenResponse is returned by the token refresh endpoint.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
}
