// Package events defines the typed event stream shared by agent sessions,
// the orchestrator loop, and the gateway.
package events

// Status is the current state of a session.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusStreaming    Status = "streaming"
	StatusThinking     Status = "thinking"
	StatusToolUse      Status = "tool_use"
	StatusInterrupted  Status = "interrupted"
	StatusDisconnected Status = "disconnected"
)

// Usage is token accounting for a turn.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Event is implemented by every value yielded from a session or
// orchestrator turn.
type Event interface {
	isEvent()
}

// TextDelta is a streaming text token.
type TextDelta struct {
	Text string
}

// TextComplete is a complete assistant text block.
type TextComplete struct {
	Text string
}

// ThinkingDelta is a streaming thinking token.
type ThinkingDelta struct {
	Text string
}

// ThinkingComplete is a complete thinking block.
type ThinkingComplete struct {
	Text string
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolExecuting signals that a tool has started running.
type ToolExecuting struct {
	ID   string
	Name string
}

// ToolProgress is a heartbeat for a long-running tool.
type ToolProgress struct {
	ID      string
	Name    string
	Elapsed float64
	Message string
}

// ToolResult is the output of a completed tool execution.
type ToolResult struct {
	ID      string
	Output  string
	IsError bool
}

// TurnComplete marks the end of one send→response cycle.
//
// Agent-CLI sessions populate Cost, NumTurns, SessionID, IsError and
// Result; orchestrator turns populate Usage only.
type TurnComplete struct {
	Cost      float64
	HasCost   bool
	Usage     Usage
	NumTurns  int
	SessionID string
	IsError   bool
	Result    string
}

// CompactComplete signals that the conversation was summarized.
// Trigger is "manual" or "auto".
type CompactComplete struct {
	Trigger string
}

// VoiceInterrupted is a user barge-in during a voice response.
type VoiceInterrupted struct {
	PartialText string
}

// NestedSession wraps an event from an agent session driven by the
// orchestrator, for relaying to orchestrator subscribers.
type NestedSession struct {
	SessionID string
	Event     map[string]any
}

// Error terminates a stream. Kind is a stable identifier from the
// error taxonomy (interrupted, api_error, start_timeout, ...).
type Error struct {
	Kind   string
	Detail string
}

func (TextDelta) isEvent()        {}
func (TextComplete) isEvent()     {}
func (ThinkingDelta) isEvent()    {}
func (ThinkingComplete) isEvent() {}
func (ToolUse) isEvent()          {}
func (ToolExecuting) isEvent()    {}
func (ToolProgress) isEvent()     {}
func (ToolResult) isEvent()       {}
func (TurnComplete) isEvent()     {}
func (CompactComplete) isEvent()  {}
func (VoiceInterrupted) isEvent() {}
func (NestedSession) isEvent()    {}
func (Error) isEvent()            {}

func (e Error) Error() string {
	if e.Detail != "" {
		return e.Kind + ": " + e.Detail
	}
	return e.Kind
}

// Error kinds used across the gateway and orchestrator.
const (
	ErrInvalidJSON        = "invalid_json"
	ErrNotStarted         = "not_started"
	ErrStartTimeout       = "start_timeout"
	ErrStartFailed        = "start_failed"
	ErrOrchestratorActive = "orchestrator_active"
	ErrSendFailed         = "send_failed"
	ErrVoiceTimeout       = "voice_timeout"
	ErrAPIError           = "api_error"
	ErrProviderError      = "provider_error"
	ErrInterrupted        = "interrupted"
	ErrUnknownType        = "unknown_type"
	ErrNotVoiceSession    = "not_voice_session"
	ErrVoiceEventFailed   = "voice_event_failed"
)
