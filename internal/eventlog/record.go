package eventlog

import (
	"encoding/json"
	"strconv"
)

// Record is the self-describing structured log line written for every
// hooks.Event. Fields that don't apply to a given event kind are omitted
// from the JSON encoding.
type Record struct {
	// TS is the event time in ISO-8601 UTC.
	TS string `json:"ts"`
	// Event is one of the SessionEvent kinds (hooks.EventType).
	Event     string `json:"event"`
	SessionID string `json:"session_id"`

	// ToolName, Payload, IsError, Content, DurationMS apply to tool_use
	// and tool_result records.
	ToolName   string          `json:"tool_name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Content    string          `json:"content,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`

	// Subtype applies to system_notice records. "compact_boundary" is the
	// distinguished value that also doubles as the compaction_boundary
	// kind.
	Subtype string `json:"subtype,omitempty"`

	// Kind and Message apply to error records.
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`

	// SessionNumber, ModelID apply to the session_start header.
	SessionNumber int    `json:"session_number,omitempty"`
	ModelID       string `json:"model_id,omitempty"`

	// Footer fields apply to the session_end record.
	DurationSeconds float64     `json:"duration_seconds,omitempty"`
	ToolUseCount    int         `json:"tool_use_count,omitempty"`
	ErrorCount      int         `json:"error_count,omitempty"`
	Tokens          *TokenUsage `json:"tokens,omitempty"`
}

// TokenUsage mirrors the session footer's tokens sub-object.
type TokenUsage struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheCreation int `json:"cache_creation"`
	CacheRead     int `json:"cache_read"`
}

// narrative renders a one-line human-readable rendition of the record for
// the companion narrative artifact.
func (r Record) narrative() string {
	switch r.Event {
	case "session_start":
		return "session " + r.SessionID + " started (model " + r.ModelID + ")"
	case "session_end":
		return "session " + r.SessionID + " ended: " + formatFooter(r)
	case "assistant_text":
		return r.Content
	case "tool_use":
		return "-> " + r.ToolName
	case "tool_result":
		if r.IsError {
			return "<- " + r.ToolName + " failed: " + r.Content
		}
		return "<- " + r.ToolName + ": " + r.Content
	case "error":
		return "error (" + r.Kind + "): " + r.Message
	case "system_notice":
		if r.Subtype == "compact_boundary" {
			return "--- context compacted ---"
		}
		return "notice (" + r.Subtype + "): " + r.Content
	case "compaction_boundary":
		return "--- context compacted ---"
	default:
		return r.Event
	}
}

func formatFooter(r Record) string {
	return "tool_uses=" + strconv.Itoa(r.ToolUseCount) + " errors=" + strconv.Itoa(r.ErrorCount)
}
