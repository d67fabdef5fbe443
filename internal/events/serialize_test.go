package events

import "testing"

func TestSerializeFrameTypes(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{TextDelta{Text: "x"}, "text_delta"},
		{TextComplete{Text: "x"}, "text_complete"},
		{ThinkingDelta{Text: "x"}, "thinking_delta"},
		{ThinkingComplete{Text: "x"}, "thinking_complete"},
		{ToolUse{ID: "1"}, "tool_use"},
		{ToolExecuting{ID: "1"}, "tool_executing"},
		{ToolProgress{ID: "1"}, "tool_progress"},
		{ToolResult{ID: "1"}, "tool_result"},
		{TurnComplete{}, "turn_complete"},
		{CompactComplete{Trigger: "auto"}, "compact_complete"},
		{VoiceInterrupted{}, "voice_interrupted"},
		{NestedSession{SessionID: "s"}, "nested_session_event"},
		{Error{Kind: "api_error"}, "error"},
	}
	for _, tc := range cases {
		m := Serialize(tc.ev)
		if m["type"] != tc.want {
			t.Errorf("Serialize(%T) type = %v, want %s", tc.ev, m["type"], tc.want)
		}
	}
}

func TestSerializeTurnCompleteCost(t *testing.T) {
	m := Serialize(TurnComplete{Cost: 0.12, HasCost: true, NumTurns: 3, SessionID: "sdk-1"})
	if m["cost"] != 0.12 || m["num_turns"] != 3 || m["session_id"] != "sdk-1" {
		t.Errorf("frame = %v", m)
	}

	m = Serialize(TurnComplete{})
	if m["cost"] != nil {
		t.Errorf("absent cost = %v, want nil", m["cost"])
	}
}

func TestSerializeNestedSession(t *testing.T) {
	inner := map[string]any{"type": "text_delta", "text": "hi"}
	m := Serialize(NestedSession{SessionID: "local-1", Event: inner})

	if m["session_id"] != "local-1" {
		t.Errorf("session_id = %v", m["session_id"])
	}
	if m["event_type"] != "text_delta" {
		t.Errorf("event_type = %v", m["event_type"])
	}
	data, ok := m["event_data"].(map[string]any)
	if !ok || data["text"] != "hi" {
		t.Errorf("event_data = %v", m["event_data"])
	}
}

func TestErrorImplementsError(t *testing.T) {
	err := Error{Kind: "start_timeout", Detail: "no status"}
	if err.Error() != "start_timeout: no status" {
		t.Errorf("Error() = %q", err.Error())
	}
	if (Error{Kind: "interrupted"}).Error() != "interrupted" {
		t.Error("kind-only message wrong")
	}
}
