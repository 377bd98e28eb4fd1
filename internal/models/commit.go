// Package models defines the commit aggregate tracked and synchronized by
// codetrail: commits own sessions, sessions own turns, and commits may own
// visual attachments.
package models

import (
	"strings"
	"time"
)

// SyncStatus describes where a commit stands relative to the remote store.
type SyncStatus string

const (
	// StatusPending marks local edits not yet uploaded.
	StatusPending SyncStatus = "pending"
	// StatusSynced marks a commit whose last known local and remote state agree.
	StatusSynced SyncStatus = "synced"
	// StatusConflict marks a commit where both sides advanced past the last
	// mutually observed version.
	StatusConflict SyncStatus = "conflict"
	// StatusError marks a commit whose last upload attempt failed.
	StatusError SyncStatus = "error"
	// StatusFiltered marks a commit excluded from sync by curation rules.
	StatusFiltered SyncStatus = "filtered"
)

// CloseReason records why a commit stopped accumulating work.
type CloseReason string

const (
	CloseReasonGitCommit  CloseReason = "git_commit"
	CloseReasonSessionEnd CloseReason = "session_end"
	CloseReasonManual     CloseReason = "manual"
)

// warmupMarker is the content fingerprint of synthetic first-run conversations
// produced by coding agents; such commits are never uploaded.
const warmupMarker = "warmup"

// Commit is the aggregate unit of AI-assisted work being tracked.
//
// ID is generated locally; CloudID is assigned by the remote store on first
// push and stays empty until then. CloudVersion is the last remote version
// observed for this commit, LocalVersion counts local mutations. The pair
// drives conflict detection on both push and pull.
type Commit struct {
	ID      string
	CloudID string

	StartedAt   time.Time
	ClosedAt    time.Time
	CloseReason CloseReason

	Sessions     []Session
	FilesRead    []string
	FilesChanged []string

	Project string
	Agent   string
	Title   string

	Published    bool
	Hidden       bool
	DisplayOrder int

	SyncStatus   SyncStatus
	CloudVersion int64
	LocalVersion int64
	LastSyncedAt *time.Time
	SyncError    string
}

// TotalTurns counts turns across all sessions.
func (c *Commit) TotalTurns() int {
	n := 0
	for _, s := range c.Sessions {
		n += len(s.Turns)
	}
	return n
}

// FirstTurn returns the earliest turn of the earliest session, or nil when
// the commit has no turns.
func (c *Commit) FirstTurn() *Turn {
	for _, s := range c.Sessions {
		if len(s.Turns) > 0 {
			return &s.Turns[0]
		}
	}
	return nil
}

// IsWarmup reports whether the commit's first turn carries the internal
// warm-up marker. The match is a case-insensitive substring check.
func (c *Commit) IsWarmup() bool {
	t := c.FirstTurn()
	if t == nil || t.Content == nil {
		return false
	}
	return strings.Contains(strings.ToLower(*t.Content), warmupMarker)
}

// Session is one conversation with an agent, owned by a commit. It carries no
// sync status of its own; it inherits the commit's.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Turns     []Turn
}
