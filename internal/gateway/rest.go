package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// handleSessionsAPI dispatches the /api/sessions REST routes:
//
//	GET    /api/sessions                  list session history
//	GET    /api/sessions/pool/live        live pool state for re-attach
//	GET    /api/sessions/{id}             session detail
//	GET    /api/sessions/{id}/preview     detail capped at ?max= messages
//	PATCH  /api/sessions/{id}/rename      set a custom title
//	DELETE /api/sessions/{id}             delete the session log
//	POST   /api/sessions/{local_id}/close close a live pool session
func (s *Server) handleSessionsAPI(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions"), "/")

	if rest == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.listSessions(w)
		return
	}

	if rest == "pool/live" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.livePool(w)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.sessionDetail(w, r, id, 0)
	case action == "" && r.Method == http.MethodDelete:
		s.deleteSession(w, id)
	case action == "preview" && r.Method == http.MethodGet:
		maxMessages := 20
		if v := r.URL.Query().Get("max"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				maxMessages = n
			}
		}
		s.sessionDetail(w, r, id, maxMessages)
	case action == "rename" && r.Method == http.MethodPatch:
		s.renameSession(w, r, id)
	case action == "close" && r.Method == http.MethodPost:
		s.closePoolSession(w, id)
	default:
		methodNotAllowed(w)
	}
}

// listSessions returns history entries enriched with live pool state:
// a session whose backend id is currently pooled gets its local_id and
// an active flag so the UI can re-attach instead of resuming a copy.
func (s *Server) listSessions(w http.ResponseWriter) {
	infos, err := s.store.List()
	if err != nil {
		slog.Error("list sessions failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sessions := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		entry := map[string]any{
			"session_id":    info.SessionID,
			"started_at":    info.StartedAt,
			"last_activity": info.LastActivity,
			"title":         info.Title,
			"message_count": info.MessageCount,
			"orchestrator":  info.Orchestrator,
			"voice":         info.Voice,
		}
		if localID := s.pool.FindByBackendID(info.SessionID); localID != "" {
			entry["local_id"] = localID
			entry["active"] = true
		}
		sessions = append(sessions, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// livePool returns what is currently running so a reconnecting UI can
// rebuild its tabs.
func (s *Server) livePool(w http.ResponseWriter) {
	payload := map[string]any{
		"sessions":     s.pool.List(),
		"orchestrator": nil,
	}
	if s.pool.HasOrchestrator() {
		orch := map[string]any{"session_id": s.pool.OrchestratorID()}
		if o := s.pool.GetOrchestrator(); o != nil {
			orch["voice"] = o.IsVoice()
		}
		payload["orchestrator"] = orch
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) sessionDetail(w http.ResponseWriter, r *http.Request, id string, maxMessages int) {
	detail, err := s.store.Detail(id, maxMessages)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) renameSession(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if _, err := s.store.Info(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	if err := s.store.SetTitle(id, strings.TrimSpace(body.Title)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "title": strings.TrimSpace(body.Title)})
}

func (s *Server) deleteSession(w http.ResponseWriter, id string) {
	if _, err := s.store.Info(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	if err := s.store.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// closePoolSession closes a live session by local_id. The JSONL log is
// deleted only when the session is brand new and unused: zero turns
// and not a resume of an earlier conversation. Anything with history
// stays on disk.
func (s *Server) closePoolSession(w http.ResponseWriter, localID string) {
	sm := s.pool.Get(localID)
	if sm == nil {
		writeError(w, http.StatusNotFound, "no live session: "+localID)
		return
	}

	deleteLog := sm.Turns() == 0 && !sm.Resumed()
	logID := sm.BackendID()
	if logID == "" {
		logID = localID
	}

	s.pool.Close(localID)

	deleted := false
	if deleteLog {
		if err := s.store.Delete(logID); err != nil {
			slog.Warn("delete unused session log failed", "session", logID, "err", err)
		} else {
			deleted = true
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "closed", "deleted_log": deleted})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"error": detail})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
