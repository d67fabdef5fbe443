package providers

import (
	"context"
	"testing"
	"time"

	"github.com/codedeck/codedeck/internal/events"
)

func TestTranslateTranscriptDelta(t *testing.T) {
	p := NewVoiceProvider("", "")
	ev := p.Translate(map[string]any{"type": "response.audio_transcript.delta", "delta": "hi "})
	if d, ok := ev.(events.TextDelta); !ok || d.Text != "hi " {
		t.Fatalf("translated = %#v", ev)
	}
	if p.Translate(map[string]any{"type": "response.audio_transcript.delta", "delta": ""}) != nil {
		t.Error("empty delta should translate to nil")
	}
}

func TestTranslateFunctionCallAccumulation(t *testing.T) {
	p := NewVoiceProvider("", "")

	if ev := p.Translate(map[string]any{
		"type": "response.output_item.added",
		"item": map[string]any{"type": "function_call", "call_id": "c1", "name": "list_agent_sessions"},
	}); ev != nil {
		t.Fatalf("output_item.added should be bookkeeping only, got %#v", ev)
	}

	p.Translate(map[string]any{"type": "response.function_call_arguments.delta", "call_id": "c1", "delta": `{"ty`})
	p.Translate(map[string]any{"type": "response.function_call_arguments.delta", "call_id": "c1", "delta": `pe":"agent"}`})

	ev := p.Translate(map[string]any{"type": "response.function_call_arguments.done", "call_id": "c1"})
	tu, ok := ev.(events.ToolUse)
	if !ok {
		t.Fatalf("translated = %#v", ev)
	}
	if tu.ID != "c1" || tu.Name != "list_agent_sessions" || tu.Input["type"] != "agent" {
		t.Errorf("tool use = %#v", tu)
	}
}

func TestTranslateFunctionCallInlineArguments(t *testing.T) {
	p := NewVoiceProvider("", "")
	ev := p.Translate(map[string]any{
		"type":      "response.function_call_arguments.done",
		"call_id":   "c9",
		"name":      "read_file",
		"arguments": `{"path":"a.txt"}`,
	})
	tu, ok := ev.(events.ToolUse)
	if !ok || tu.Name != "read_file" || tu.Input["path"] != "a.txt" {
		t.Fatalf("translated = %#v", ev)
	}
}

func TestTranslateResponseDoneUsage(t *testing.T) {
	p := NewVoiceProvider("", "")
	ev := p.Translate(map[string]any{
		"type": "response.done",
		"response": map[string]any{
			"usage": map[string]any{"input_tokens": float64(100), "output_tokens": float64(25)},
		},
	})
	tc, ok := ev.(events.TurnComplete)
	if !ok || tc.Usage.InputTokens != 100 || tc.Usage.OutputTokens != 25 {
		t.Fatalf("translated = %#v", ev)
	}
}

func TestTranslateError(t *testing.T) {
	p := NewVoiceProvider("", "")
	ev := p.Translate(map[string]any{
		"type":  "error",
		"error": map[string]any{"code": "session_expired", "message": "gone"},
	})
	errEv, ok := ev.(events.Error)
	if !ok || errEv.Kind != "session_expired" || errEv.Detail != "gone" {
		t.Fatalf("translated = %#v", ev)
	}

	ev = p.Translate(map[string]any{"type": "error", "error": map[string]any{"message": "x"}})
	if errEv := ev.(events.Error); errEv.Kind != "openai_error" {
		t.Errorf("default kind = %q", errEv.Kind)
	}
}

func TestCreateMessageDrainsUntilDone(t *testing.T) {
	p := NewVoiceProvider("", "")
	ch := p.CreateMessage(context.Background(), nil, nil, "")

	p.InjectEvent(map[string]any{"type": "response.audio_transcript.delta", "delta": "hello"})
	p.InjectEvent(map[string]any{"type": "response.audio_transcript.done", "transcript": "hello"})
	p.InjectEvent(map[string]any{"type": "response.done"})

	var got []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				if len(got) != 3 {
					t.Fatalf("events = %#v", got)
				}
				if _, ok := got[2].(events.TurnComplete); !ok {
					t.Fatalf("last event = %#v", got[2])
				}
				return
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatal("stream did not close after response.done")
		}
	}
}

func TestCreateMessageIdleTimeout(t *testing.T) {
	p := NewVoiceProvider("", "")
	p.idleTimeout = 30 * time.Millisecond

	ch := p.CreateMessage(context.Background(), nil, nil, "")
	select {
	case ev := <-ch:
		errEv, ok := ev.(events.Error)
		if !ok || errEv.Kind != events.ErrVoiceTimeout {
			t.Fatalf("event = %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no timeout event")
	}
}

func TestSpeechStartedInterrupts(t *testing.T) {
	p := NewVoiceProvider("", "")
	ch := p.CreateMessage(context.Background(), nil, nil, "")

	p.InjectEvent(map[string]any{"type": "response.audio_transcript.delta", "delta": "partial answ"})
	p.InjectEvent(map[string]any{"type": "input_audio_buffer.speech_started"})
	p.InjectEvent(map[string]any{"type": "response.done"})

	var interrupted *events.VoiceInterrupted
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				if interrupted == nil {
					t.Fatal("no VoiceInterrupted observed")
				}
				if interrupted.PartialText != "partial answ" {
					t.Errorf("partial = %q", interrupted.PartialText)
				}
				return
			}
			if vi, isInt := ev.(events.VoiceInterrupted); isInt {
				interrupted = &vi
			}
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func TestSessionUpdatePayload(t *testing.T) {
	p := NewVoiceProvider("gpt-realtime", "cedar")
	payload := p.SessionUpdatePayload("be helpful", []map[string]any{{"name": "read_file"}})

	if payload["type"] != "session.update" {
		t.Fatalf("type = %v", payload["type"])
	}
	session := payload["session"].(map[string]any)
	if session["model"] != "gpt-realtime" || session["voice"] != "cedar" {
		t.Errorf("model/voice = %v/%v", session["model"], session["voice"])
	}
	if session["instructions"] != "be helpful" {
		t.Errorf("instructions = %v", session["instructions"])
	}
	td := session["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" {
		t.Errorf("turn_detection = %v", td)
	}
}

func TestPendingCallLifecycle(t *testing.T) {
	p := NewVoiceProvider("", "")
	p.Translate(map[string]any{
		"type": "response.output_item.added",
		"item": map[string]any{"type": "function_call", "call_id": "c1", "name": "open_agent_session"},
	})
	if name, ok := p.PendingCallName("c1"); !ok || name != "open_agent_session" {
		t.Fatalf("PendingCallName = %q, %v", name, ok)
	}
	p.ForgetCall("c1")
	if _, ok := p.PendingCallName("c1"); ok {
		t.Error("call survived ForgetCall")
	}
}
