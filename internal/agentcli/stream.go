package agentcli

import "encoding/json"

// StreamEvent is a parsed NDJSON line from the agent CLI running with
// --output-format stream-json.
type StreamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Cost      float64         `json:"total_cost_usd,omitempty"`
	NumTurns  int             `json:"num_turns,omitempty"`
	Usage     *streamUsage    `json:"usage,omitempty"`
	// stream_event inner event (from --include-partial-messages)
	Event json.RawMessage `json:"event,omitempty"`
	// system compact boundary
	CompactMetadata *compactMetadata `json:"compact_metadata,omitempty"`
}

type streamUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type compactMetadata struct {
	Trigger string `json:"trigger"`
}

// ContentBlock mirrors the CLI's message content block types.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type parsedMessage struct {
	Content []ContentBlock `json:"content"`
}

// stdinUserMessage is the JSON format for user messages on the CLI's stdin.
type stdinUserMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Message   stdinMessageInner `json:"message"`
}

type stdinMessageInner struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// stdinControlRequest carries out-of-band commands (interrupt) to the CLI.
type stdinControlRequest struct {
	Type      string              `json:"type"`
	RequestID string              `json:"request_id"`
	Request   stdinControlPayload `json:"request"`
}

type stdinControlPayload struct {
	Subtype string `json:"subtype"`
}

// blockText renders a tool_result content value as a string: raw
// strings pass through, structured content is re-serialized.
func blockText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// blockInput parses a tool_use input into a map.
func blockInput(raw json.RawMessage) map[string]any {
	input := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &input)
	}
	return input
}
