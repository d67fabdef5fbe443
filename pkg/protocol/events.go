package protocol

// WebSocket frame types pushed from server to client.
const (
	// Stream events relayed from an agent or orchestrator turn.
	EventTextDelta        = "text_delta"
	EventTextComplete     = "text_complete"
	EventThinkingDelta    = "thinking_delta"
	EventThinkingComplete = "thinking_complete"
	EventToolUse          = "tool_use"
	EventToolExecuting    = "tool_executing"
	EventToolProgress     = "tool_progress"
	EventToolResult       = "tool_result"
	EventTurnComplete     = "turn_complete"
	EventCompactComplete  = "compact_complete"
	EventVoiceInterrupted = "voice_interrupted"
	EventError            = "error"

	// Connection lifecycle frames.
	EventStatus         = "status"
	EventSessionStarted = "session_started"
	EventSessionStopped = "session_stopped"
	EventUserMessage    = "user_message"
	EventVoiceCommand   = "voice_command"

	// Watcher notifications (orchestrator endpoint).
	EventAgentSessionOpened = "agent_session_opened"
	EventAgentSessionClosed = "agent_session_closed"
	EventNestedSession      = "nested_session_event"
)
