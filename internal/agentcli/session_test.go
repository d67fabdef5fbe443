package agentcli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/codedeck/codedeck/internal/config"
	"github.com/codedeck/codedeck/internal/events"
)

// newTurnSession returns a session with an installed turn channel so
// processEvent output can be observed without a subprocess.
func newTurnSession() (*Session, chan events.Event) {
	s := New(config.AgentConfig{}, "local-1", "", false)
	turn := make(chan events.Event, 64)
	s.mu.Lock()
	s.turn = turn
	s.started = true
	s.status = events.StatusStreaming
	s.mu.Unlock()
	return s, turn
}

func feed(t *testing.T, s *Session, line string) {
	t.Helper()
	var ev StreamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("bad test event: %v", err)
	}
	s.processEvent(&ev)
}

func drain(ch chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestCapturesBackendID(t *testing.T) {
	s, _ := newTurnSession()
	feed(t, s, `{"type":"system","subtype":"init","session_id":"sdk-123"}`)
	if got := s.BackendID(); got != "sdk-123" {
		t.Errorf("BackendID = %q", got)
	}
	// Error results must not overwrite the id.
	feed(t, s, `{"type":"result","session_id":"bogus","is_error":true}`)
	if got := s.BackendID(); got != "sdk-123" {
		t.Errorf("BackendID after error = %q", got)
	}
}

func TestInitUnblocksStart(t *testing.T) {
	s, _ := newTurnSession()
	feed(t, s, `{"type":"system","subtype":"init","session_id":"sdk-1"}`)
	select {
	case <-s.initCh:
	default:
		t.Fatal("initCh not closed after system init")
	}
	// A second init must not panic on double close.
	feed(t, s, `{"type":"system","subtype":"init","session_id":"sdk-1"}`)
}

func TestAssistantMessageBlocks(t *testing.T) {
	s, turn := newTurnSession()
	feed(t, s, `{"type":"assistant","message":{"content":[
		{"type":"thinking","thinking":"hmm"},
		{"type":"text","text":"hello"},
		{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}}
	]}}`)

	got := drain(turn)
	if len(got) != 3 {
		t.Fatalf("events = %d: %v", len(got), got)
	}
	if th, ok := got[0].(events.ThinkingComplete); !ok || th.Text != "hmm" {
		t.Errorf("got[0] = %#v", got[0])
	}
	if tc, ok := got[1].(events.TextComplete); !ok || tc.Text != "hello" {
		t.Errorf("got[1] = %#v", got[1])
	}
	tu, ok := got[2].(events.ToolUse)
	if !ok || tu.ID != "tu_1" || tu.Name != "Bash" || tu.Input["command"] != "ls" {
		t.Errorf("got[2] = %#v", got[2])
	}
	if s.Status() != events.StatusToolUse {
		t.Errorf("status = %s", s.Status())
	}
}

func TestUserToolResults(t *testing.T) {
	s, turn := newTurnSession()
	feed(t, s, `{"type":"user","message":{"content":[
		{"type":"tool_result","tool_use_id":"tu_1","content":"plain output"},
		{"type":"tool_result","tool_use_id":"tu_2","content":[{"type":"text","text":"structured"}],"is_error":true}
	]}}`)

	got := drain(turn)
	if len(got) != 2 {
		t.Fatalf("events = %d", len(got))
	}
	r1 := got[0].(events.ToolResult)
	if r1.ID != "tu_1" || r1.Output != "plain output" || r1.IsError {
		t.Errorf("r1 = %#v", r1)
	}
	r2 := got[1].(events.ToolResult)
	if r2.ID != "tu_2" || !r2.IsError {
		t.Errorf("r2 = %#v", r2)
	}
	if r2.Output == "" {
		t.Error("structured content dropped")
	}
}

func TestStreamDeltas(t *testing.T) {
	s, turn := newTurnSession()
	feed(t, s, `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"he"}}}`)
	feed(t, s, `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"tk"}}}`)
	feed(t, s, `{"type":"stream_event","event":{"type":"content_block_start"}}`)

	got := drain(turn)
	if len(got) != 2 {
		t.Fatalf("events = %d: %v", len(got), got)
	}
	if td := got[0].(events.TextDelta); td.Text != "he" {
		t.Errorf("text delta = %#v", td)
	}
	if td := got[1].(events.ThinkingDelta); td.Text != "tk" {
		t.Errorf("thinking delta = %#v", td)
	}
}

func TestResultCompletesTurn(t *testing.T) {
	s, turn := newTurnSession()
	feed(t, s, `{"type":"result","session_id":"sdk-9","total_cost_usd":0.05,"num_turns":2,"result":"done","usage":{"input_tokens":10,"output_tokens":4}}`)

	tc, ok := (<-turn).(events.TurnComplete)
	if !ok {
		t.Fatal("expected TurnComplete")
	}
	if !tc.HasCost || tc.Cost != 0.05 || tc.NumTurns != 2 || tc.SessionID != "sdk-9" {
		t.Errorf("turn complete = %#v", tc)
	}
	if tc.Usage.InputTokens != 10 || tc.Usage.OutputTokens != 4 {
		t.Errorf("usage = %#v", tc.Usage)
	}
	if _, open := <-turn; open {
		t.Error("turn channel not closed after result")
	}

	if s.Cost() != 0.05 || s.Turns() != 2 {
		t.Errorf("accumulated cost=%v turns=%d", s.Cost(), s.Turns())
	}
	if s.Status() != events.StatusIdle {
		t.Errorf("status = %s", s.Status())
	}
}

func TestResultWithoutCost(t *testing.T) {
	s, turn := newTurnSession()
	feed(t, s, `{"type":"result","session_id":"sdk-9","num_turns":1}`)
	tc := (<-turn).(events.TurnComplete)
	if tc.HasCost {
		t.Error("zero cost reported as present")
	}
	if s.Cost() != 0 {
		t.Errorf("cost = %v", s.Cost())
	}
}

func TestCompactBoundary(t *testing.T) {
	s, turn := newTurnSession()
	feed(t, s, `{"type":"system","subtype":"compact_boundary","compact_metadata":{"trigger":"auto"}}`)
	feed(t, s, `{"type":"system","subtype":"compact"}`)

	got := drain(turn)
	if len(got) != 2 {
		t.Fatalf("events = %d", len(got))
	}
	if cc := got[0].(events.CompactComplete); cc.Trigger != "auto" {
		t.Errorf("trigger = %q", cc.Trigger)
	}
	if cc := got[1].(events.CompactComplete); cc.Trigger != "manual" {
		t.Errorf("default trigger = %q", cc.Trigger)
	}
}

func TestEmitWithoutTurnDropsEvent(t *testing.T) {
	s := New(config.AgentConfig{}, "local-1", "", false)
	// Must not panic or block.
	s.emit(events.TextDelta{Text: "orphan"})
}

func TestSendRequiresStart(t *testing.T) {
	s := New(config.AgentConfig{}, "local-1", "", false)
	if _, err := s.Send(context.Background(), "hi"); err == nil {
		t.Fatal("Send before Start succeeded")
	}
}

func TestResumedFlag(t *testing.T) {
	if New(config.AgentConfig{}, "a", "", false).Resumed() {
		t.Error("fresh session reports resumed")
	}
	if !New(config.AgentConfig{}, "a", "sdk-1", false).Resumed() {
		t.Error("resume session not reported")
	}
}

func TestBlockHelpers(t *testing.T) {
	if got := blockText(json.RawMessage(`"plain"`)); got != "plain" {
		t.Errorf("blockText string = %q", got)
	}
	if got := blockText(json.RawMessage(`[{"type":"text"}]`)); got != `[{"type":"text"}]` {
		t.Errorf("blockText structured = %q", got)
	}
	if got := blockText(nil); got != "" {
		t.Errorf("blockText nil = %q", got)
	}
	in := blockInput(json.RawMessage(`{"a":1}`))
	if in["a"] != float64(1) {
		t.Errorf("blockInput = %v", in)
	}
	if blockInput(nil) == nil {
		t.Error("blockInput nil should be empty map")
	}
}

func TestResultDoesNotBlockAbandonedTurn(t *testing.T) {
	s := New(config.AgentConfig{}, "local-1", "", false)
	// Simulate a turn whose reader gave up: the buffer is already full.
	turn := make(chan events.Event, 1)
	turn <- events.TextDelta{Text: "unread"}
	s.mu.Lock()
	s.turn = turn
	s.started = true
	s.status = events.StatusStreaming
	s.mu.Unlock()

	var ev StreamEvent
	if err := json.Unmarshal([]byte(`{"type":"result","session_id":"sdk-9","num_turns":1,"total_cost_usd":0.01}`), &ev); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.processEvent(&ev)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("result processing blocked on a full turn channel")
	}

	if s.Status() != events.StatusIdle {
		t.Errorf("status = %s, want idle", s.Status())
	}
	// The completion was dropped but the channel still closed.
	<-turn
	if _, ok := <-turn; ok {
		t.Fatal("turn channel not closed")
	}
}
