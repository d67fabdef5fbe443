// Package sessionlog persists orchestrator conversations as append-only
// JSONL files and reconstructs provider histories from them.
package sessionlog

import (
	"time"

	"github.com/codedeck/codedeck/internal/providers"
)

// Record is one line of a session JSONL file.
type Record struct {
	Type      string             `json:"type"`
	Message   *providers.Message `json:"message,omitempty"`
	Timestamp string             `json:"timestamp,omitempty"`
	Source    string             `json:"source,omitempty"`

	// tool_use / tool_result records
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	Output     string         `json:"output,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`

	// orchestrator_meta record (first line of orchestrator logs)
	Orchestrator bool   `json:"orchestrator,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Voice        bool   `json:"voice,omitempty"`
	OpenAIModel  string `json:"openai_model,omitempty"`
	VoiceName    string `json:"voice_name,omitempty"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// MetaRecord builds the orchestrator_meta first line for a new log.
func MetaRecord(sessionID string, voice bool, voiceModel, voiceName string) Record {
	r := Record{
		Type:         "orchestrator_meta",
		Orchestrator: true,
		SessionID:    sessionID,
		Timestamp:    now(),
	}
	if voice {
		r.Voice = true
		r.OpenAIModel = voiceModel
		r.VoiceName = voiceName
	}
	return r
}

// UserRecord builds a user message record. Source is "" for text mode
// or "voice_transcription" for voice transcripts.
func UserRecord(text, source string) Record {
	msg := providers.TextMessage("user", text)
	return Record{Type: "user", Message: &msg, Source: source, Timestamp: now()}
}

// AssistantRecord builds an assistant message record.
func AssistantRecord(text, source string) Record {
	msg := providers.TextMessage("assistant", text)
	return Record{Type: "assistant", Message: &msg, Source: source, Timestamp: now()}
}

// ToolUseRecord builds a tool_use record.
func ToolUseRecord(callID, name string, input map[string]any, source string) Record {
	return Record{
		Type:       "tool_use",
		ToolCallID: callID,
		ToolName:   name,
		ToolInput:  input,
		Source:     source,
		Timestamp:  now(),
	}
}

// ToolResultRecord builds a tool_result record.
func ToolResultRecord(callID, output string, isError bool, source string) Record {
	return Record{
		Type:       "tool_result",
		ToolCallID: callID,
		Output:     output,
		IsError:    isError,
		Source:     source,
		Timestamp:  now(),
	}
}

// VoiceInterruptedRecord marks a barge-in in the log.
func VoiceInterruptedRecord() Record {
	return Record{Type: "voice_interrupted", Timestamp: now()}
}
