package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codedeck/codedeck/internal/config"
	"github.com/codedeck/codedeck/internal/pool"
	"github.com/codedeck/codedeck/internal/sessionlog"
)

func newTestServer(t *testing.T) (*Server, *sessionlog.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.ProjectDir = t.TempDir()
	store := sessionlog.NewStore(cfg.Agent.ProjectDir)
	return NewServer(cfg, pool.New(), store, nil, nil), store
}

func seedSession(t *testing.T, store *sessionlog.Store, id string, messages ...string) {
	t.Helper()
	w, err := sessionlog.NewWriter(store.LogPath(id))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i, text := range messages {
		if i%2 == 0 {
			w.Append(sessionlog.UserRecord(text, ""))
		} else {
			w.Append(sessionlog.AssistantRecord(text, ""))
		}
	}
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func TestListSessionsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	sessions, ok := body["sessions"].([]any)
	if !ok || len(sessions) != 0 {
		t.Fatalf("sessions = %v", body["sessions"])
	}
}

func TestListSessionsReturnsSeeded(t *testing.T) {
	s, store := newTestServer(t)
	seedSession(t, store, "abc", "hello there", "hi")

	rec := doRequest(s, http.MethodGet, "/api/sessions", "")
	body := decodeBody(t, rec)
	sessions := body["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("len(sessions) = %d", len(sessions))
	}
	entry := sessions[0].(map[string]any)
	if entry["session_id"] != "abc" {
		t.Errorf("session_id = %v", entry["session_id"])
	}
	if entry["title"] != "hello there" {
		t.Errorf("title = %v", entry["title"])
	}
	if entry["message_count"] != float64(2) {
		t.Errorf("message_count = %v", entry["message_count"])
	}
	if _, ok := entry["active"]; ok {
		t.Error("inactive session flagged active")
	}
}

func TestSessionDetail(t *testing.T) {
	s, store := newTestServer(t)
	seedSession(t, store, "abc", "question", "answer")

	rec := doRequest(s, http.MethodGet, "/api/sessions/abc", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d", len(msgs))
	}
}

func TestSessionDetailNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/sessions/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionPreviewCapsMessages(t *testing.T) {
	s, store := newTestServer(t)
	seedSession(t, store, "abc", "m1", "m2", "m3", "m4", "m5", "m6")

	rec := doRequest(s, http.MethodGet, "/api/sessions/abc/preview?max=2", "")
	body := decodeBody(t, rec)
	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d", len(msgs))
	}
	last := msgs[1].(map[string]any)
	if last["text"] != "m6" {
		t.Errorf("kept wrong end of the log: %v", last["text"])
	}
}

func TestRenameSession(t *testing.T) {
	s, store := newTestServer(t)
	seedSession(t, store, "abc", "hello")

	rec := doRequest(s, http.MethodPatch, "/api/sessions/abc/rename", `{"title":"My Task"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}

	info, err := store.Info("abc")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Title != "My Task" {
		t.Errorf("title = %q", info.Title)
	}
}

func TestRenameRequiresTitle(t *testing.T) {
	s, store := newTestServer(t)
	seedSession(t, store, "abc", "hello")

	for _, body := range []string{`{}`, `{"title":"  "}`, `not json`} {
		rec := doRequest(s, http.MethodPatch, "/api/sessions/abc/rename", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, rec.Code)
		}
	}
}

func TestRenameNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPatch, "/api/sessions/nope/rename", `{"title":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	s, store := newTestServer(t)
	seedSession(t, store, "abc", "hello")

	rec := doRequest(s, http.MethodDelete, "/api/sessions/abc", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := store.Info("abc"); err == nil {
		t.Error("session still present after delete")
	}

	rec = doRequest(s, http.MethodDelete, "/api/sessions/abc", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestLivePoolEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/sessions/pool/live", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["orchestrator"] != nil {
		t.Errorf("orchestrator = %v", body["orchestrator"])
	}
}

func TestClosePoolSessionNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/sessions/nope/close", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/sessions", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != "ok" {
		t.Errorf("status field = %v", got)
	}
}
