package providers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/codedeck/codedeck/internal/events"
)

// Voice defaults; overridable via config.
const (
	DefaultVoiceModel = "gpt-realtime"
	DefaultVoiceName  = "cedar"
)

const voiceIdleTimeout = 30 * time.Second

// VoiceProvider translates mirrored OpenAI Realtime events into the
// standard event stream.
//
// It never calls the model itself. The frontend holds a WebRTC data
// channel to the Realtime API and mirrors every event to the gateway,
// which injects them here. CreateMessage drains the queue until the
// turn completes.
type VoiceProvider struct {
	model string
	voice string

	queue chan map[string]any

	mu           sync.Mutex
	transcript   string            // partial transcript of the current response
	pendingCalls map[string]string // call_id → tool name
	pendingArgs  map[string]string // call_id → accumulated arguments JSON

	idleTimeout time.Duration
}

// NewVoiceProvider creates a voice provider. Empty model or voice fall
// back to the defaults.
func NewVoiceProvider(model, voice string) *VoiceProvider {
	if model == "" {
		model = DefaultVoiceModel
	}
	if voice == "" {
		voice = DefaultVoiceName
	}
	return &VoiceProvider{
		model:        model,
		voice:        voice,
		queue:        make(chan map[string]any, 1024),
		pendingCalls: make(map[string]string),
		pendingArgs:  make(map[string]string),
		idleTimeout:  voiceIdleTimeout,
	}
}

func (p *VoiceProvider) Name() string  { return "openai_voice" }
func (p *VoiceProvider) Model() string { return p.model }

// InjectEvent feeds a mirrored Realtime event into the queue. Events
// are dropped with a warning if the queue is full.
func (p *VoiceProvider) InjectEvent(event map[string]any) {
	select {
	case p.queue <- event:
	default:
		slog.Warn("voice: event queue full, dropping event", "type", event["type"])
	}
}

// PendingCallName returns the tool name registered for a call id.
func (p *VoiceProvider) PendingCallName(callID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.pendingCalls[callID]
	return name, ok
}

// ForgetCall drops tracking state for a completed call.
func (p *VoiceProvider) ForgetCall(callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pendingCalls, callID)
	delete(p.pendingArgs, callID)
}

// CreateMessage drains queued Realtime events until response.done or
// an error, yielding translated events. The messages, tools and system
// arguments are unused: the Realtime session holds its own context,
// configured via SessionUpdatePayload.
func (p *VoiceProvider) CreateMessage(ctx context.Context, _ []Message, _ []map[string]any, _ string) <-chan events.Event {
	out := make(chan events.Event, 64)

	go func() {
		defer close(out)

		p.mu.Lock()
		p.transcript = ""
		p.mu.Unlock()

		timer := time.NewTimer(p.idleTimeout)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				out <- events.Error{Kind: events.ErrVoiceTimeout, Detail: "No event received within 30s"}
				return
			case event := <-p.queue:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(p.idleTimeout)

				eventType, _ := event["type"].(string)
				if translated := p.Translate(event); translated != nil {
					out <- translated
				}

				switch eventType {
				case "response.audio_transcript.delta":
					p.mu.Lock()
					p.transcript += stringField(event, "delta")
					p.mu.Unlock()
				case "response.done":
					p.mu.Lock()
					p.transcript = ""
					p.mu.Unlock()
					return
				case "error":
					return
				}
			}
		}
	}()

	return out
}

// Translate converts one Realtime event to a stream event, or nil for
// bookkeeping-only events.
func (p *VoiceProvider) Translate(event map[string]any) events.Event {
	eventType, _ := event["type"].(string)

	switch eventType {
	case "response.audio_transcript.delta":
		if text := stringField(event, "delta"); text != "" {
			return events.TextDelta{Text: text}
		}

	case "response.audio_transcript.done":
		return events.TextComplete{Text: stringField(event, "transcript")}

	case "response.output_item.added":
		item, _ := event["item"].(map[string]any)
		if itemType, _ := item["type"].(string); itemType == "function_call" {
			callID := stringField(item, "call_id")
			name := stringField(item, "name")
			if callID != "" && name != "" {
				p.mu.Lock()
				p.pendingCalls[callID] = name
				p.pendingArgs[callID] = ""
				p.mu.Unlock()
			}
		}

	case "response.function_call_arguments.delta":
		callID := stringField(event, "call_id")
		p.mu.Lock()
		if _, ok := p.pendingArgs[callID]; ok {
			p.pendingArgs[callID] += stringField(event, "delta")
		}
		p.mu.Unlock()

	case "response.function_call_arguments.done":
		callID := stringField(event, "call_id")
		p.mu.Lock()
		argsStr := stringField(event, "arguments")
		if argsStr == "" {
			argsStr = p.pendingArgs[callID]
		}
		name := p.pendingCalls[callID]
		p.mu.Unlock()
		if name == "" {
			name = stringField(event, "name")
		}

		input := map[string]any{}
		if argsStr != "" {
			if err := json.Unmarshal([]byte(argsStr), &input); err != nil {
				input = map[string]any{}
			}
		}
		if callID != "" && name != "" {
			return events.ToolUse{ID: callID, Name: name, Input: input}
		}

	case "response.done":
		var usage events.Usage
		if resp, ok := event["response"].(map[string]any); ok {
			if u, ok := resp["usage"].(map[string]any); ok {
				usage.InputTokens = intField(u, "input_tokens")
				usage.OutputTokens = intField(u, "output_tokens")
			}
		}
		return events.TurnComplete{Usage: usage}

	case "input_audio_buffer.speech_started":
		// Server VAD detected user speech during assistant output.
		p.mu.Lock()
		partial := p.transcript
		p.transcript = ""
		p.mu.Unlock()
		return events.VoiceInterrupted{PartialText: partial}

	case "error":
		errObj, _ := event["error"].(map[string]any)
		kind := stringField(errObj, "code")
		if kind == "" {
			kind = "openai_error"
		}
		return events.Error{Kind: kind, Detail: stringField(errObj, "message")}
	}

	return nil
}

// SessionUpdatePayload builds the session.update frame the frontend
// forwards to OpenAI over the WebRTC data channel.
func (p *VoiceProvider) SessionUpdatePayload(system string, tools []map[string]any) map[string]any {
	if tools == nil {
		tools = []map[string]any{}
	}
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"model":        p.model,
			"voice":        p.voice,
			"instructions": system,
			"tools":        tools,
			"tool_choice":  "auto",
			"modalities":   []string{"text", "audio"},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 800,
			},
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
		},
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
