package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codedeck/codedeck/internal/events"
)

const defaultReadMax = 20

// RegisterSessionTools registers the agent-session control tools.
func RegisterSessionTools(r *Registry) {
	r.Register(
		"list_agent_sessions",
		"List all currently active coding-agent sessions with their status. "+
			"Each session has a session_id (use with send_to_agent_session/close_agent_session) "+
			"and a sdk_session_id (use with open_agent_session to resume after closing).",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		listAgentSessions,
	)

	r.Register(
		"open_agent_session",
		"Start a new coding-agent session or resume a past one from history. "+
			"To resume, pass its sdk_session_id (from list_agent_sessions or list_history). "+
			"Omit all parameters to start fresh. Returns the session_id to use with "+
			"send_to_agent_session and close_agent_session.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"resume_sdk_id": map[string]any{
					"type": "string",
					"description": "The sdk_session_id of a past session to resume. This is the " +
						"backend session ID, NOT the session_id returned by open_agent_session.",
				},
			},
		},
		openAgentSession,
	)

	r.Register(
		"close_agent_session",
		"Close an active coding-agent session.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "The session ID to close.",
				},
			},
			"required": []any{"session_id"},
		},
		closeAgentSession,
	)

	r.Register(
		"read_agent_session",
		"Read recent messages from a coding-agent session's history.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "The session ID to read.",
				},
				"max_messages": map[string]any{
					"type":        "integer",
					"description": "Maximum number of messages to return (default: 20).",
				},
			},
			"required": []any{"session_id"},
		},
		readAgentSession,
	)

	r.Register(
		"send_to_agent_session",
		"Send a message to an active coding-agent session and wait for the response. "+
			"Returns the agent's text response. Progress events are streamed to the "+
			"orchestrator so clients stay updated during long-running agent tasks.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "The session ID to send to.",
				},
				"message": map[string]any{
					"type":        "string",
					"description": "The message to send to the agent.",
				},
			},
			"required": []any{"session_id", "message"},
		},
		sendToAgentSession,
	)

	r.Register(
		"interrupt_agent_session",
		"Interrupt an actively executing coding-agent session. Use this to stop an "+
			"agent that is running undesired actions or taking too long.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "The session ID to interrupt.",
				},
			},
			"required": []any{"session_id"},
		},
		interruptAgentSession,
	)

	r.Register(
		"list_history",
		"List all past conversation sessions. Each session has a 'type' field: "+
			"'agent' sessions can be resumed with open_agent_session, "+
			"'orchestrator' sessions CANNOT be resumed as agent sessions.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of sessions to return (default: 20).",
				},
			},
		},
		listHistory,
	)
}

func listAgentSessions(ctx context.Context, tc *Context, input map[string]any) (string, error) {
	stats := tc.Pool.List()
	sessions := make([]map[string]any, 0, len(stats))
	for _, st := range stats {
		s := map[string]any{
			"session_id":     st.SessionID,
			"sdk_session_id": st.BackendID,
			"status":         string(st.Status),
			"cost":           st.Cost,
			"turns":          st.Turns,
		}
		// The store keys logs by backend id (JSONL filenames).
		if st.BackendID != "" {
			if info, err := tc.Store.Info(st.BackendID); err == nil {
				s["message_count"] = info.MessageCount
				s["title"] = info.Title
			}
		}
		sessions = append(sessions, s)
	}
	return jsonResult(map[string]any{"sessions": sessions, "count": len(sessions)}), nil
}

func openAgentSession(ctx context.Context, tc *Context, input map[string]any) (string, error) {
	resumeID := strArg(input, "resume_sdk_id")

	if resumeID != "" {
		info, err := tc.Store.Info(resumeID)
		if err != nil {
			return errorResult(fmt.Sprintf(
				"Session %q not found in history. Use list_history to see available sessions.",
				resumeID)), nil
		}
		if info.Orchestrator {
			return errorResult(fmt.Sprintf(
				"Session %q is an orchestrator session and cannot be resumed as an agent session. "+
					"Only agent sessions (type='agent') from list_history can be resumed.",
				resumeID)), nil
		}
	}

	localID, err := tc.Pool.Create(ctx, tc.Config.Agent, "", resumeID, false)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to start session: %v", err)), nil
	}
	return jsonResult(map[string]any{"session_id": localID, "status": "started"}), nil
}

func closeAgentSession(ctx context.Context, tc *Context, input map[string]any) (string, error) {
	sessionID := strArg(input, "session_id")
	if !tc.Pool.Has(sessionID) {
		return errorResult(fmt.Sprintf("No active session with ID %s", sessionID)), nil
	}
	tc.Pool.Close(sessionID)
	return jsonResult(map[string]any{"session_id": sessionID, "status": "closed"}), nil
}

func readAgentSession(ctx context.Context, tc *Context, input map[string]any) (string, error) {
	sessionID := strArg(input, "session_id")
	maxMessages := intArg(input, "max_messages", defaultReadMax)

	// session_id is the pool's local id; the log is keyed by backend id.
	logID := sessionID
	if sm := tc.Pool.Get(sessionID); sm != nil && sm.BackendID() != "" {
		logID = sm.BackendID()
	}

	detail, err := tc.Store.Detail(logID, maxMessages)
	if err != nil || len(detail.Messages) == 0 {
		return errorResult(fmt.Sprintf("No messages found for session %s", sessionID)), nil
	}

	messages := make([]map[string]any, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		messages = append(messages, map[string]any{
			"role":      m.Role,
			"text":      m.Text,
			"timestamp": m.Timestamp,
		})
	}
	return jsonResult(map[string]any{"session_id": sessionID, "messages": messages}), nil
}

func sendToAgentSession(ctx context.Context, tc *Context, input map[string]any) (string, error) {
	sessionID := strArg(input, "session_id")
	message := strArg(input, "message")

	if !tc.Pool.Has(sessionID) {
		return errorResult(fmt.Sprintf("No active session with ID %s", sessionID)), nil
	}

	timeout := time.Duration(tc.Config.Agent.SendTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := tc.Pool.Send(sendCtx, sessionID, message, nil)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to send message: %v", err)), nil
	}

	var texts []string
	var cost float64
	var turns int

	for {
		select {
		case ev, ok := <-out:
			if !ok {
				return jsonResult(map[string]any{
					"session_id": sessionID,
					"response":   strings.Join(texts, "\n"),
					"cost":       cost,
					"turns":      turns,
				}), nil
			}
			switch e := ev.(type) {
			case events.TextDelta, events.TextComplete, events.ToolUse, events.ToolResult:
				// Forward progress to orchestrator subscribers as nested events
				// so clients see the agent working during long tool calls.
				tc.Pool.BroadcastOrchestrator(events.Serialize(events.NestedSession{
					SessionID: sessionID,
					Event:     events.Serialize(ev),
				}))
				if done, ok := e.(events.TextComplete); ok {
					texts = append(texts, done.Text)
				}
			case events.TurnComplete:
				cost = e.Cost
				turns = e.NumTurns
			}
		case <-sendCtx.Done():
			return errorResult(fmt.Sprintf(
				"Timed out waiting for response from session %s. "+
					"The session may be busy with another request or unresponsive.",
				sessionID)), nil
		}
	}
}

func interruptAgentSession(ctx context.Context, tc *Context, input map[string]any) (string, error) {
	sessionID := strArg(input, "session_id")
	if !tc.Pool.Has(sessionID) {
		return errorResult(fmt.Sprintf("No active session with ID %s", sessionID)), nil
	}
	tc.Pool.Interrupt(sessionID)
	return jsonResult(map[string]any{"session_id": sessionID, "status": "interrupted"}), nil
}

func listHistory(ctx context.Context, tc *Context, input map[string]any) (string, error) {
	limit := intArg(input, "limit", defaultReadMax)

	infos, err := tc.Store.List()
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list history: %v", err)), nil
	}
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}

	sessions := make([]map[string]any, 0, len(infos))
	for _, s := range infos {
		kind := "agent"
		if s.Orchestrator {
			kind = "orchestrator"
		}
		sessions = append(sessions, map[string]any{
			"session_id":    s.SessionID,
			"title":         s.Title,
			"message_count": s.MessageCount,
			"last_activity": s.LastActivity.Format(time.RFC3339),
			"type":          kind,
		})
	}
	return jsonResult(map[string]any{"sessions": sessions, "total": len(sessions)}), nil
}

func strArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func intArg(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
