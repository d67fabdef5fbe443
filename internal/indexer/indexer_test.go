package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codedeck/codedeck/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// countingScript writes one line to outFile per invocation, recording
// its arguments.
func countingScript(t *testing.T, outFile string) string {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "reindex.sh")
	writeFile(t, script, "#!/bin/sh\necho \"$@\" >> "+outFile+"\n")
	if err := os.Chmod(script, 0755); err != nil {
		t.Fatal(err)
	}
	return script
}

func TestEnabled(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.IndexerConfig
		want bool
	}{
		{"off", config.IndexerConfig{}, false},
		{"no command", config.IndexerConfig{Enabled: true}, false},
		{"on", config.IndexerConfig{Enabled: true, Command: []string{"/bin/true"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := New(tc.cfg, t.TempDir()).Enabled(); got != tc.want {
				t.Errorf("Enabled() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSessionsHashTracksChanges(t *testing.T) {
	projectDir := t.TempDir()
	s := New(config.IndexerConfig{}, projectDir)

	if h := s.sessionsHash(); h != "" {
		t.Fatalf("hash of missing dir = %q", h)
	}

	writeFile(t, filepath.Join(config.SessionsDir(projectDir), "a.jsonl"), "{}\n")
	h1 := s.sessionsHash()
	if h1 == "" {
		t.Fatal("hash empty with one session")
	}
	if h2 := s.sessionsHash(); h2 != h1 {
		t.Error("hash unstable without changes")
	}

	writeFile(t, filepath.Join(config.SessionsDir(projectDir), "b.jsonl"), "{}\n")
	if h3 := s.sessionsHash(); h3 == h1 {
		t.Error("hash unchanged after new session file")
	}
}

func TestSessionsHashIgnoresNonLogs(t *testing.T) {
	projectDir := t.TempDir()
	s := New(config.IndexerConfig{}, projectDir)

	writeFile(t, filepath.Join(config.SessionsDir(projectDir), "a.jsonl"), "{}\n")
	h1 := s.sessionsHash()

	writeFile(t, filepath.Join(config.SessionsDir(projectDir), ".titles.json"), "{}")
	if h2 := s.sessionsHash(); h2 != h1 {
		t.Error("hash changed for a non-jsonl file")
	}
}

func TestReindexRunsCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "calls.log")
	projectDir := t.TempDir()
	s := New(config.IndexerConfig{
		Enabled: true,
		Command: []string{countingScript(t, out)},
	}, projectDir)

	if !s.reindex(context.Background(), "--memory-only") {
		t.Fatal("reindex reported failure")
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read calls log: %v", err)
	}
	if string(data) != "--memory-only\n" {
		t.Errorf("recorded args = %q", data)
	}
}

func TestReindexFailureReported(t *testing.T) {
	s := New(config.IndexerConfig{
		Enabled: true,
		Command: []string{"/bin/false"},
	}, t.TempDir())

	if s.reindex(context.Background(), "--history-only") {
		t.Fatal("failing command reported success")
	}
}

func TestHistoryLoopSkipsUnchanged(t *testing.T) {
	out := filepath.Join(t.TempDir(), "calls.log")
	projectDir := t.TempDir()
	writeFile(t, filepath.Join(config.SessionsDir(projectDir), "a.jsonl"), "{}\n")

	s := New(config.IndexerConfig{
		Enabled: true,
		Command: []string{countingScript(t, out)},
	}, projectDir)
	s.interval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	s.historyLoop(ctx)

	data, _ := os.ReadFile(out)
	if string(data) != "--history-only\n" {
		t.Errorf("expected exactly one reindex for unchanged sessions, got %q", data)
	}
}

func TestMemoryWatcherDebounces(t *testing.T) {
	out := filepath.Join(t.TempDir(), "calls.log")
	projectDir := t.TempDir()

	t.Setenv("CLAUDE_CONFIG_DIR", filepath.Join(t.TempDir(), "claude"))
	memDir := config.MemoryDir(projectDir)
	if err := os.MkdirAll(memDir, 0755); err != nil {
		t.Fatal(err)
	}

	s := New(config.IndexerConfig{
		Enabled: true,
		Command: []string{countingScript(t, out)},
	}, projectDir)
	s.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.watchMemory(ctx)
		close(done)
	}()

	// Give the watcher time to register, then burst several writes.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		writeFile(t, filepath.Join(memDir, "ORCHESTRATOR_MEMORY.md"), "note")
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.After(2 * time.Second)
	for {
		data, _ := os.ReadFile(out)
		if string(data) == "--memory-only\n" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("reindex not observed, calls log = %q", data)
		case <-time.After(20 * time.Millisecond):
		}
	}

	// No second run should follow the single debounced one.
	time.Sleep(200 * time.Millisecond)
	data, _ := os.ReadFile(out)
	if string(data) != "--memory-only\n" {
		t.Errorf("expected one debounced reindex, got %q", data)
	}
	cancel()
	<-done
}
