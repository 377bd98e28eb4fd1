package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single exchange inside a session. Content is nil for tool-only
// turns.
type Turn struct {
	ID        string
	Role      Role
	Content   *string
	Timestamp time.Time
	Model     string
	ToolCalls []ToolCall

	// TriggersVisualUpdate flags turns after which a screenshot should be
	// captured by the (out of scope) capture pipeline.
	TriggersVisualUpdate bool
}

// ToolCall records a single tool invocation inside a turn.
type ToolCall struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input,omitempty"`
	Result  string          `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}
