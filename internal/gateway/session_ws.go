package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/codedeck/codedeck/internal/events"
	"github.com/codedeck/codedeck/pkg/protocol"
)

// handleSessionWS runs the agent-session WebSocket protocol: start,
// send, command, interrupt, stop. A stop only unsubscribes — the
// session stays live in the pool for other clients and the
// orchestrator.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}
	client := NewClient(conn)
	slog.Info("session client connected", "client", client.ID())

	var sessionID string

	defer func() {
		if sessionID != "" {
			s.pool.Unsubscribe(sessionID, client)
		}
		client.Close()
		slog.Info("session client disconnected", "client", client.ID())
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
			if id, ok := s.startAgentSession(ctx, client, msg); ok {
				if sessionID != "" && sessionID != id {
					s.pool.Unsubscribe(sessionID, client)
				}
				sessionID = id
			}

		case protocol.MsgSend:
			if sessionID == "" {
				client.SendJSON(map[string]any{
					"type": "error", "error": events.ErrNotStarted,
					"detail": "Send a 'start' message first",
				})
				continue
			}
			s.streamSend(ctx, client, sessionID, msg.Text)

		case protocol.MsgCommand:
			if sessionID == "" {
				client.SendJSON(map[string]any{"type": "error", "error": events.ErrNotStarted})
				continue
			}
			s.streamCommand(ctx, client, sessionID, msg.Text)

		case protocol.MsgInterrupt:
			if sessionID != "" {
				s.pool.Interrupt(sessionID)
				client.SendJSON(map[string]any{"type": "status", "status": string(events.StatusInterrupted)})
			}

		case protocol.MsgStop:
			if sessionID != "" {
				s.pool.Unsubscribe(sessionID, client)
				sessionID = ""
			}
			client.SendJSON(map[string]any{"type": "session_stopped"})

		default:
			client.SendJSON(map[string]any{
				"type": "error", "error": events.ErrUnknownType,
				"detail": "Unknown message type: " + msg.Type,
			})
		}
	}
}

// startAgentSession creates or re-attaches to a pooled session and
// subscribes this client. Returns (local id, true) on success.
func (s *Server) startAgentSession(ctx context.Context, client *Client, msg protocol.ClientMessage) (string, bool) {
	client.SendJSON(map[string]any{"type": "status", "status": string(events.StatusConnecting)})

	sessionID, err := s.pool.Create(ctx, s.cfg.Agent, msg.LocalID, msg.ResumeID(), msg.Fork)
	if err != nil {
		kind := events.ErrStartFailed
		var ev events.Error
		if errors.As(err, &ev) && ev.Kind == events.ErrStartTimeout {
			kind = events.ErrStartTimeout
		}
		slog.Error("session start failed", "err", err)
		client.SendJSON(map[string]any{"type": "error", "error": kind, "detail": err.Error()})
		return "", false
	}

	s.pool.Subscribe(sessionID, client)
	client.SendJSON(map[string]any{"type": "session_started", "session_id": sessionID})
	return sessionID, true
}

// streamSend runs one turn through the pool. Events reach this client
// through its subscription; here we only drain the relay channel and
// surface failures.
func (s *Server) streamSend(ctx context.Context, client *Client, sessionID, text string) {
	out, err := s.pool.Send(ctx, sessionID, text, client)
	if err != nil {
		client.SendJSON(map[string]any{"type": "error", "error": events.ErrSendFailed, "detail": err.Error()})
		return
	}
	for range out {
	}
}

// streamCommand runs a slash command on the session, streaming its
// events to this client only.
func (s *Server) streamCommand(ctx context.Context, client *Client, sessionID, text string) {
	sm := s.pool.Get(sessionID)
	if sm == nil {
		client.SendJSON(map[string]any{"type": "error", "error": events.ErrNotStarted})
		return
	}
	ch, err := sm.Command(ctx, text)
	if err != nil {
		client.SendJSON(map[string]any{"type": "error", "error": "command_failed", "detail": err.Error()})
		return
	}
	for ev := range ch {
		client.SendJSON(events.Serialize(ev))
	}
}
