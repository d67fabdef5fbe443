package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/codedeck/codedeck/internal/config"
	"github.com/codedeck/codedeck/internal/events"
	"github.com/codedeck/codedeck/internal/providers"
	"github.com/codedeck/codedeck/internal/sessionlog"
	"github.com/codedeck/codedeck/internal/tools"
)

// maxVoiceHistoryMessages is how many history messages voice sessions
// keep verbatim in the prompt; older ones are summarized.
const maxVoiceHistoryMessages = 20

const summaryPrompt = "Summarize the following conversation in 3-5 concise sentences, " +
	"focusing on what was discussed, decisions made, and any important context " +
	"the assistant should remember. Be factual and brief.\n\n"

// Session manages one orchestrator conversation with JSONL
// persistence. Text mode streams through the Anthropic provider;
// voice mode is driven by mirrored Realtime events via
// ProcessVoiceEvent.
type Session struct {
	cfg      *config.Config
	registry *tools.Registry
	toolCtx  *tools.Context

	resumeID string
	localID  string
	voice    bool

	agent         *Agent
	voiceProvider *providers.VoiceProvider
	writer        *sessionlog.Writer

	historySummary string
}

// NewSession creates an orchestrator session. resumeID continues an
// existing JSONL log; localID is the stable pool key (generated when
// empty).
func NewSession(cfg *config.Config, registry *tools.Registry, toolCtx *tools.Context, resumeID, localID string, voice bool) *Session {
	if localID == "" {
		localID = uuid.NewString()
	}
	return &Session{
		cfg:      cfg,
		registry: registry,
		toolCtx:  toolCtx,
		resumeID: resumeID,
		localID:  localID,
		voice:    voice,
	}
}

// LocalID returns the pool key, stable across reconnects.
func (s *Session) LocalID() string { return s.localID }

// JSONLID returns the log filename stem: the resume id when resuming,
// otherwise the local id, so resumed sessions append to the same file.
func (s *Session) JSONLID() string {
	if s.resumeID != "" {
		return s.resumeID
	}
	return s.localID
}

// IsVoice reports whether this is a voice-mode session.
func (s *Session) IsVoice() bool { return s.voice }

// Start initializes the provider, the log writer, and — when resuming
// — the reconstructed history. Returns the local id.
func (s *Session) Start(ctx context.Context) (string, error) {
	var provider providers.Provider
	if s.voice {
		s.voiceProvider = providers.NewVoiceProvider(s.cfg.Orchestrator.VoiceModel, s.cfg.Orchestrator.VoiceName)
		provider = s.voiceProvider
	} else {
		provider = providers.NewAnthropicProvider(s.cfg.Orchestrator.APIKey,
			providers.WithAnthropicModel(s.cfg.Orchestrator.Model),
			providers.WithAnthropicMaxTokens(s.cfg.Orchestrator.MaxTokens),
			providers.WithAnthropicBaseURL(s.cfg.Orchestrator.BaseURL),
		)
	}

	memoryPath := config.MemoryFilePath(s.cfg.Agent.ProjectDir)
	s.agent = NewAgent(provider, s.registry, s.toolCtx, memoryPath)

	logPath := config.SessionLogPath(s.cfg.Agent.ProjectDir, s.JSONLID())
	writer, err := sessionlog.NewWriter(logPath)
	if err != nil {
		return "", fmt.Errorf("open session log: %w", err)
	}
	s.writer = writer

	if s.resumeID != "" && fileExists(logPath) {
		history := sessionlog.Load(logPath)
		s.agent.SetHistory(history)
		if s.voice && len(history) > maxVoiceHistoryMessages {
			s.historySummary = s.summarizeHistory(ctx, history[:len(history)-maxVoiceHistoryMessages])
		}
	} else {
		s.writer.Append(sessionlog.MetaRecord(s.JSONLID(), s.voice,
			s.cfg.Orchestrator.VoiceModel, s.cfg.Orchestrator.VoiceName))
	}

	return s.localID, nil
}

// Send runs one text turn, persisting the user message, tool events as
// they stream, and the assistant text at the end. Voice sessions must
// use ProcessVoiceEvent instead.
func (s *Session) Send(ctx context.Context, prompt string) (<-chan events.Event, error) {
	if s.agent == nil {
		return nil, events.Error{Kind: events.ErrNotStarted, Detail: "session not started"}
	}
	if s.voice {
		return nil, events.Error{Kind: events.ErrSendFailed, Detail: "voice sessions take Realtime events, not text sends"}
	}

	s.writer.Append(sessionlog.UserRecord(prompt, ""))

	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		var textParts []string
		for ev := range s.agent.Run(ctx, prompt) {
			switch e := ev.(type) {
			case events.TextComplete:
				textParts = append(textParts, e.Text)
			case events.ToolUse:
				s.writer.Append(sessionlog.ToolUseRecord(e.ID, e.Name, e.Input, ""))
			case events.ToolResult:
				s.writer.Append(sessionlog.ToolResultRecord(e.ID, e.Output, e.IsError, ""))
			}
			out <- ev
		}
		if len(textParts) > 0 {
			s.writer.Append(sessionlog.AssistantRecord(strings.Join(textParts, "\n"), ""))
		}
	}()
	return out, nil
}

// SessionUpdatePayload renders the Realtime session.update command for
// voice mode, carrying the system prompt and tool schemas. Returns nil
// for text sessions.
func (s *Session) SessionUpdatePayload() map[string]any {
	if !s.voice || s.voiceProvider == nil {
		return nil
	}
	var history []providers.Message
	if s.agent != nil {
		history = s.agent.History()
	}
	system := buildSystemPrompt(promptInput{
		memoryPath:     config.MemoryFilePath(s.cfg.Agent.ProjectDir),
		projectDir:     s.toolCtx.ProjectDir,
		sessions:       s.agent.poolSessions(),
		history:        history,
		historySummary: s.historySummary,
	})
	return s.voiceProvider.SessionUpdatePayload(system, s.registry.OpenAIDefinitions())
}

// ProcessVoiceEvent handles one mirrored Realtime event: injects it
// into the voice provider, persists transcripts and interruptions, and
// executes completed tool calls. Returns the commands to send back to
// the client (tool output + response.create).
func (s *Session) ProcessVoiceEvent(ctx context.Context, event map[string]any) []map[string]any {
	if !s.voice || s.voiceProvider == nil {
		return nil
	}

	s.voiceProvider.InjectEvent(event)

	var commands []map[string]any
	eventType, _ := event["type"].(string)

	switch eventType {
	case "conversation.item.input_audio_transcription.completed":
		if transcript, _ := event["transcript"].(string); transcript != "" {
			s.writer.Append(sessionlog.UserRecord("[voice] "+transcript, "voice_transcription"))
		}

	case "conversation.item.created":
		item, _ := event["item"].(map[string]any)
		if role, _ := item["role"].(string); role == "user" {
			content, _ := item["content"].([]any)
			for _, c := range content {
				block, _ := c.(map[string]any)
				if t, _ := block["type"].(string); t != "input_text" {
					continue
				}
				if text, _ := block["text"].(string); text != "" {
					s.writer.Append(sessionlog.UserRecord(text, "voice_transcription"))
					break
				}
			}
		}

	case "response.function_call_arguments.done":
		callID, _ := event["call_id"].(string)
		name, _ := event["name"].(string)
		argsStr, _ := event["arguments"].(string)

		if name == "" && callID != "" {
			if pending, ok := s.voiceProvider.PendingCallName(callID); ok {
				name = pending
			}
		}

		toolInput := map[string]any{}
		if argsStr != "" {
			if err := json.Unmarshal([]byte(argsStr), &toolInput); err != nil {
				toolInput = map[string]any{}
			}
		}

		if callID != "" && name != "" {
			result := s.registry.Execute(ctx, name, toolInput, s.toolCtx)
			s.writer.Append(sessionlog.ToolUseRecord(callID, name, toolInput, "voice"))
			s.writer.Append(sessionlog.ToolResultRecord(callID, result, tools.IsErrorResult(result), "voice"))
			commands = append(commands,
				map[string]any{
					"type": "conversation.item.create",
					"item": map[string]any{
						"type":    "function_call_output",
						"call_id": callID,
						"output":  result,
					},
				},
				map[string]any{"type": "response.create"},
			)
		}

	case "response.audio_transcript.done":
		if transcript, _ := event["transcript"].(string); transcript != "" {
			s.writer.Append(sessionlog.AssistantRecord(transcript, "voice_response"))
		}

	case "input_audio_buffer.speech_started":
		s.writer.Append(sessionlog.VoiceInterruptedRecord())
	}

	return commands
}

// Interrupt aborts the current agent run.
func (s *Session) Interrupt() {
	if s.agent != nil {
		s.agent.Interrupt()
	}
}

// Stop releases the session. The JSONL log stays on disk.
func (s *Session) Stop() {
	s.agent = nil
	s.voiceProvider = nil
}

// summarizeHistory condenses older messages into a short digest using
// the fast summary model. Failures degrade to no summary.
func (s *Session) summarizeHistory(ctx context.Context, messages []providers.Message) string {
	if len(messages) == 0 {
		return ""
	}

	var lines []string
	for _, msg := range messages {
		label := "Assistant"
		if msg.Role == "user" {
			label = "User"
		}
		if len(msg.Blocks) == 0 {
			text := strings.TrimSpace(msg.Text)
			if len(text) > 500 {
				text = text[:500]
			}
			if text != "" {
				lines = append(lines, label+": "+text)
			}
			continue
		}
		var parts []string
		for _, block := range msg.Blocks {
			switch block.Type {
			case "text":
				text := strings.TrimSpace(block.Text)
				if len(text) > 300 {
					text = text[:300]
				}
				if text != "" {
					parts = append(parts, text)
				}
			case "tool_use":
				parts = append(parts, "[tool: "+block.Name+"]")
			}
		}
		if len(parts) > 0 {
			lines = append(lines, label+": "+strings.Join(parts, " "))
		}
	}

	summarizer := providers.NewAnthropicProvider(s.cfg.Orchestrator.APIKey,
		providers.WithAnthropicModel(s.cfg.Orchestrator.SummaryModel),
		providers.WithAnthropicMaxTokens(512),
		providers.WithAnthropicBaseURL(s.cfg.Orchestrator.BaseURL),
	)
	summary, err := summarizer.Complete(ctx, "", summaryPrompt+strings.Join(lines, "\n"))
	if err != nil {
		slog.Warn("failed to summarize history", "err", err)
		return ""
	}
	return summary
}

func fileExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && !stat.IsDir()
}
