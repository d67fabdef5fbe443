package sessionlog

import (
	"os"
	"testing"
	"time"

	"github.com/codedeck/codedeck/internal/config"
)

func seedLog(t *testing.T, store *Store, id string, records ...Record) {
	t.Helper()
	w, err := NewWriter(store.LogPath(id))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, r := range records {
		w.Append(r)
	}
}

func TestListEmptyDir(t *testing.T) {
	store := NewStore(t.TempDir())
	infos, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("infos = %v", infos)
	}
}

func TestListSortsByActivity(t *testing.T) {
	store := NewStore(t.TempDir())

	older := UserRecord("first", "")
	older.Timestamp = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)
	seedLog(t, store, "old", older)
	seedLog(t, store, "new", UserRecord("second", ""))

	infos, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len(infos) = %d", len(infos))
	}
	if infos[0].SessionID != "new" || infos[1].SessionID != "old" {
		t.Errorf("order = %s, %s", infos[0].SessionID, infos[1].SessionID)
	}
}

func TestListSkipsHiddenAndForeignFiles(t *testing.T) {
	store := NewStore(t.TempDir())
	seedLog(t, store, "real", UserRecord("hi", ""))
	os.WriteFile(store.Dir()+"/.titles.json", []byte("{}"), 0644)
	os.WriteFile(store.Dir()+"/notes.txt", []byte("x"), 0644)

	infos, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].SessionID != "real" {
		t.Fatalf("infos = %v", infos)
	}
}

func TestInfoTitleFromFirstUserMessage(t *testing.T) {
	store := NewStore(t.TempDir())
	seedLog(t, store, "s1",
		UserRecord("fix the flaky login test\nplease", ""),
		AssistantRecord("on it", ""),
	)

	info, err := store.Info("s1")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Title != "fix the flaky login test" {
		t.Errorf("title = %q", info.Title)
	}
	if info.MessageCount != 2 {
		t.Errorf("message count = %d", info.MessageCount)
	}
	if info.Orchestrator {
		t.Error("plain agent log flagged as orchestrator")
	}
}

func TestInfoDetectsOrchestratorMeta(t *testing.T) {
	store := NewStore(t.TempDir())
	seedLog(t, store, "orch",
		MetaRecord("orch", true, "gpt-realtime", "cedar"),
		UserRecord("[voice] hello", "voice_transcription"),
	)

	info, err := store.Info("orch")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !info.Orchestrator || !info.Voice {
		t.Errorf("orchestrator=%v voice=%v", info.Orchestrator, info.Voice)
	}
}

func TestCustomTitleOverridesDerived(t *testing.T) {
	store := NewStore(t.TempDir())
	seedLog(t, store, "s1", UserRecord("derived title", ""))

	if err := store.SetTitle("s1", "My Custom Title"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	info, err := store.Info("s1")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Title != "My Custom Title" {
		t.Errorf("title = %q", info.Title)
	}
}

func TestDetailPreviewsToolUse(t *testing.T) {
	store := NewStore(t.TempDir())
	seedLog(t, store, "s1",
		UserRecord("go", ""),
		ToolUseRecord("tu_1", "read_file", nil, ""),
		ToolResultRecord("tu_1", "data", false, ""),
		AssistantRecord("done", ""),
	)

	detail, err := store.Detail("s1", 0)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if len(detail.Messages) != 3 {
		t.Fatalf("len(messages) = %d", len(detail.Messages))
	}
	if detail.Messages[1].Text != "[tool] read_file" {
		t.Errorf("tool preview = %q", detail.Messages[1].Text)
	}
}

func TestDeleteRemovesLogAndTitle(t *testing.T) {
	projectDir := t.TempDir()
	store := NewStore(projectDir)
	seedLog(t, store, "s1", UserRecord("hi", ""))
	if err := store.SetTitle("s1", "named"); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete("s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(store.LogPath("s1")); !os.IsNotExist(err) {
		t.Error("log file survived delete")
	}
	titles := LoadTitles(config.TitlesPath(projectDir))
	if _, ok := titles["s1"]; ok {
		t.Error("title survived delete")
	}
}

func TestTruncateTitle(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	got := truncateTitle(long)
	if len([]rune(got)) != titleMaxLen+1 {
		t.Errorf("truncated length = %d", len([]rune(got)))
	}
}
