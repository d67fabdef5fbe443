package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/codedeck/codedeck/internal/events"
	"github.com/codedeck/codedeck/internal/orchestrator"
	"github.com/codedeck/codedeck/internal/tools"
	"github.com/codedeck/codedeck/pkg/protocol"
)

// handleOrchestratorWS runs the orchestrator WebSocket protocol. The
// connection is also registered as a pool watcher so it receives
// agent_session_opened/closed notifications. On disconnect the
// orchestrator session keeps running headlessly until explicitly
// stopped.
func (s *Server) handleOrchestratorWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}
	client := NewClient(conn)
	slog.Info("orchestrator client connected", "client", client.ID())

	s.pool.Watch(client)

	var session *orchestrator.Session

	defer func() {
		s.pool.Unwatch(client)
		s.pool.UnsubscribeOrchestrator(client)
		client.Close()
		slog.Info("orchestrator client disconnected", "client", client.ID())
	}()

	ctx := r.Context()
	for {
		raw, err := client.ReadMessage()
		if err != nil {
			return
		}
		var msg protocol.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			client.SendJSON(map[string]any{"type": "error", "error": events.ErrInvalidJSON})
			continue
		}

		switch msg.Type {
		case protocol.MsgStart:
			session = s.startOrchestrator(ctx, client, msg, false)

		case protocol.MsgVoiceStart:
			session = s.startOrchestrator(ctx, client, msg, true)

		case protocol.MsgSend:
			if session == nil {
				client.SendJSON(map[string]any{
					"type": "error", "error": events.ErrNotStarted,
					"detail": "Send a 'start' message first",
				})
				continue
			}
			s.streamOrchestratorSend(ctx, session, msg.Text)

		case protocol.MsgVoiceEvent:
			if session == nil || !session.IsVoice() {
				client.SendJSON(map[string]any{
					"type": "error", "error": events.ErrNotVoiceSession,
					"detail": "No active voice session",
				})
				continue
			}
			s.handleVoiceEvent(ctx, session, msg.Event)

		case protocol.MsgInterrupt:
			if session != nil {
				session.Interrupt()
				s.pool.BroadcastOrchestrator(map[string]any{
					"type": "status", "status": string(events.StatusInterrupted),
				})
			}

		case protocol.MsgStop:
			s.pool.StopOrchestrator()
			session = nil
			client.SendJSON(map[string]any{"type": "session_stopped"})

		default:
			client.SendJSON(map[string]any{
				"type": "error", "error": events.ErrUnknownType,
				"detail": "Unknown message type: " + msg.Type,
			})
		}
	}
}

// startOrchestrator starts, resumes, or reconnects to the single
// orchestrator session. The pool is keyed by local_id; the JSONL file
// by resume_sdk_id (or local_id for new sessions), which keeps history
// intact across text/voice transitions and reconnects.
func (s *Server) startOrchestrator(ctx context.Context, client *Client, msg protocol.ClientMessage, voice bool) *orchestrator.Session {
	localID := msg.LocalID
	resumeID := msg.ResumeID()

	// Reconnect: the orchestrator with this local_id is already running.
	if s.pool.HasOrchestrator() && localID != "" && s.pool.OrchestratorID() == localID {
		existing, _ := s.pool.GetOrchestrator().(*orchestrator.Session)
		currentVoice := existing != nil && existing.IsVoice()

		switch {
		case voice && !currentVoice:
			// Text-to-voice transition: stop the text session and fall
			// through to create the voice one.
			s.pool.StopOrchestrator()
		default:
			// Same mode, or a text client attaching while voice is
			// active: subscribe without disrupting the session.
			s.pool.SubscribeOrchestrator(localID, client)
			client.SendJSON(map[string]any{
				"type":       "session_started",
				"session_id": localID,
				"voice":      currentVoice,
			})
			return existing
		}
	}

	if s.pool.HasOrchestrator() {
		client.SendJSON(map[string]any{
			"type": "error", "error": events.ErrOrchestratorActive,
			"detail": "An orchestrator session is already active. Stop it first.",
		})
		return nil
	}

	session := orchestrator.NewSession(s.cfg, s.registry, s.toolCtx, resumeID, localID, voice)

	client.SendJSON(map[string]any{"type": "status", "status": string(events.StatusConnecting)})
	sessionID, err := session.Start(ctx)
	if err != nil {
		slog.Error("orchestrator start failed", "err", err)
		client.SendJSON(map[string]any{"type": "error", "error": events.ErrStartFailed, "detail": err.Error()})
		return nil
	}

	s.pool.SetOrchestrator(sessionID, session)
	s.pool.SubscribeOrchestrator(sessionID, client)

	started := map[string]any{
		"type":       "session_started",
		"session_id": sessionID,
		"voice":      voice,
	}
	if voice {
		if update := session.SessionUpdatePayload(); update != nil {
			started["voice_session_update"] = update
		}
	}
	client.SendJSON(started)
	return session
}

// streamOrchestratorSend streams one orchestrator turn to every
// subscribed client, bracketed by streaming/idle status frames.
func (s *Server) streamOrchestratorSend(ctx context.Context, session *orchestrator.Session, text string) {
	s.pool.BroadcastOrchestrator(map[string]any{"type": "status", "status": string(events.StatusStreaming)})
	out, err := session.Send(ctx, text)
	if err != nil {
		s.pool.BroadcastOrchestrator(map[string]any{
			"type": "error", "error": events.ErrSendFailed, "detail": err.Error(),
		})
		return
	}
	for ev := range out {
		s.pool.BroadcastOrchestrator(events.Serialize(ev))
	}
	s.pool.BroadcastOrchestrator(map[string]any{"type": "status", "status": string(events.StatusIdle)})
}

// handleVoiceEvent processes one mirrored Realtime event. Tool calls
// are long-running, so they execute in a goroutine and the handler
// loop keeps servicing transcripts and interruptions.
func (s *Server) handleVoiceEvent(ctx context.Context, session *orchestrator.Session, event map[string]any) {
	eventType, _ := event["type"].(string)
	if eventType == "response.function_call_arguments.done" {
		go s.runVoiceToolCall(context.WithoutCancel(ctx), session, event)
		return
	}

	commands := session.ProcessVoiceEvent(ctx, event)
	for _, cmd := range commands {
		s.pool.BroadcastOrchestrator(map[string]any{"type": "voice_command", "command": cmd})
	}
}

// runVoiceToolCall executes a voice tool call, broadcasting tool_use
// before and tool_result after so chat clients can render progress.
func (s *Server) runVoiceToolCall(ctx context.Context, session *orchestrator.Session, event map[string]any) {
	callID, _ := event["call_id"].(string)
	name, _ := event["name"].(string)
	toolInput := map[string]any{}
	if args, _ := event["arguments"].(string); args != "" {
		if err := json.Unmarshal([]byte(args), &toolInput); err != nil {
			toolInput = map[string]any{}
		}
	}

	if callID != "" && name != "" {
		s.pool.BroadcastOrchestrator(map[string]any{
			"type":        "tool_use",
			"tool_use_id": callID,
			"tool_name":   name,
			"tool_input":  toolInput,
		})
	}

	commands := session.ProcessVoiceEvent(ctx, event)

	for _, cmd := range commands {
		if cmd["type"] != "conversation.item.create" {
			continue
		}
		item, _ := cmd["item"].(map[string]any)
		if item["type"] != "function_call_output" {
			continue
		}
		output, _ := item["output"].(string)
		s.pool.BroadcastOrchestrator(map[string]any{
			"type":        "tool_result",
			"tool_use_id": item["call_id"],
			"output":      output,
			"is_error":    tools.IsErrorResult(output),
		})
	}
	for _, cmd := range commands {
		s.pool.BroadcastOrchestrator(map[string]any{"type": "voice_command", "command": cmd})
	}
}
