// Package indexer runs the background semantic-index maintenance:
// a memory-directory watcher that reindexes on file changes and a
// periodic history reindexer that skips runs when nothing changed.
// Everything here is best-effort; indexing failures never affect live
// sessions.
package indexer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codedeck/codedeck/internal/config"
)

const (
	reindexTimeout = 2 * time.Minute
	dirPollEvery   = 5 * time.Second
)

// Service owns both background indexers for one project.
type Service struct {
	cfg        config.IndexerConfig
	projectDir string

	debounce time.Duration
	interval time.Duration

	mu       sync.Mutex
	lastHash string
}

// New creates a service from config. Zero debounce/interval values fall
// back to 1s and 2min.
func New(cfg config.IndexerConfig, projectDir string) *Service {
	s := &Service{
		cfg:        cfg,
		projectDir: projectDir,
		debounce:   time.Duration(cfg.DebounceMs) * time.Millisecond,
		interval:   time.Duration(cfg.HistoryIntervalSec) * time.Second,
	}
	if s.debounce <= 0 {
		s.debounce = time.Second
	}
	if s.interval <= 0 {
		s.interval = 2 * time.Minute
	}
	return s
}

// Enabled reports whether the service has anything to run.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled && len(s.cfg.Command) > 0
}

// Run starts both indexers and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.Enabled() {
		slog.Info("indexer disabled")
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.watchMemory(ctx)
	}()
	go func() {
		defer wg.Done()
		s.historyLoop(ctx)
	}()
	wg.Wait()
}

// watchMemory reindexes the memory collection when .md files under the
// memory directory change, debounced so editor save bursts collapse
// into one run.
func (s *Service) watchMemory(ctx context.Context) {
	dir := config.MemoryDir(s.projectDir)
	if !s.waitForDir(ctx, dir) {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("memory watcher failed", "err", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		slog.Error("memory watcher add failed", "dir", dir, "err", err)
		return
	}
	slog.Info("memory watcher started", "dir", dir)

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if pending && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.debounce)
			pending = true

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("memory watcher error", "err", err)

		case <-timer.C:
			pending = false
			if s.reindex(ctx, "--memory-only") {
				slog.Info("memory indexed")
			}
		}
	}
}

// historyLoop reindexes session history on a fixed interval, skipping
// runs when the sessions directory is unchanged since the last success.
func (s *Service) historyLoop(ctx context.Context) {
	slog.Info("history indexer started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hash := s.sessionsHash()
			if hash == "" || hash == s.currentHash() {
				continue
			}
			if s.reindex(ctx, "--history-only") {
				s.setHash(hash)
				slog.Info("history indexed")
			}
		}
	}
}

// reindex runs the configured index command with the given flag.
// Returns true on a clean exit.
func (s *Service) reindex(ctx context.Context, flag string) bool {
	argv := append(append([]string{}, s.cfg.Command...), flag)

	runCtx, cancel := context.WithTimeout(ctx, reindexTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = s.projectDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		snippet := strings.TrimSpace(string(out))
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		slog.Error("reindex failed", "flag", flag, "err", err, "output", snippet)
		return false
	}
	return true
}

// sessionsHash fingerprints the sessions directory by file names,
// sizes, and mtimes.
func (s *Service) sessionsHash() string {
	dir := config.SessionsDir(s.projectDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var lines []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s:%d:%d", e.Name(), info.Size(), info.ModTime().UnixNano()))
	}
	if len(lines) == 0 {
		return ""
	}
	sort.Strings(lines)

	sum := md5.Sum([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func (s *Service) currentHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHash
}

func (s *Service) setHash(h string) {
	s.mu.Lock()
	s.lastHash = h
	s.mu.Unlock()
}

// waitForDir blocks until dir exists or ctx is cancelled.
func (s *Service) waitForDir(ctx context.Context, dir string) bool {
	if _, err := os.Stat(dir); err == nil {
		return true
	}
	slog.Info("waiting for memory directory", "dir", dir)

	ticker := time.NewTicker(dirPollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if _, err := os.Stat(dir); err == nil {
				return true
			}
		}
	}
}
