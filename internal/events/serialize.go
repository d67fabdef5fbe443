package events

// Serialize converts an Event to a map suitable for a JSON WebSocket
// frame. Field names are part of the wire protocol.
func Serialize(e Event) map[string]any {
	switch ev := e.(type) {
	case TextDelta:
		return map[string]any{"type": "text_delta", "text": ev.Text}
	case TextComplete:
		return map[string]any{"type": "text_complete", "text": ev.Text}
	case ThinkingDelta:
		return map[string]any{"type": "thinking_delta", "text": ev.Text}
	case ThinkingComplete:
		return map[string]any{"type": "thinking_complete", "text": ev.Text}
	case ToolUse:
		return map[string]any{
			"type":        "tool_use",
			"tool_use_id": ev.ID,
			"tool_name":   ev.Name,
			"tool_input":  ev.Input,
		}
	case ToolExecuting:
		return map[string]any{
			"type":        "tool_executing",
			"tool_use_id": ev.ID,
			"tool_name":   ev.Name,
		}
	case ToolProgress:
		return map[string]any{
			"type":        "tool_progress",
			"tool_use_id": ev.ID,
			"tool_name":   ev.Name,
			"elapsed":     ev.Elapsed,
			"message":     ev.Message,
		}
	case ToolResult:
		return map[string]any{
			"type":        "tool_result",
			"tool_use_id": ev.ID,
			"output":      ev.Output,
			"is_error":    ev.IsError,
		}
	case TurnComplete:
		m := map[string]any{
			"type": "turn_complete",
			"usage": map[string]any{
				"input_tokens":  ev.Usage.InputTokens,
				"output_tokens": ev.Usage.OutputTokens,
			},
			"num_turns":  ev.NumTurns,
			"session_id": ev.SessionID,
			"is_error":   ev.IsError,
			"result":     ev.Result,
		}
		if ev.HasCost {
			m["cost"] = ev.Cost
		} else {
			m["cost"] = nil
		}
		return m
	case CompactComplete:
		return map[string]any{"type": "compact_complete", "trigger": ev.Trigger}
	case VoiceInterrupted:
		return map[string]any{"type": "voice_interrupted", "partial_text": ev.PartialText}
	case NestedSession:
		eventType, _ := ev.Event["type"].(string)
		return map[string]any{
			"type":       "nested_session_event",
			"session_id": ev.SessionID,
			"event_type": eventType,
			"event_data": ev.Event,
		}
	case Error:
		return map[string]any{"type": "error", "error": ev.Kind, "detail": ev.Detail}
	}
	return map[string]any{"type": "unknown"}
}
