package sessionlog

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/codedeck/codedeck/internal/config"
)

const titleMaxLen = 80

// SessionInfo is summary metadata for a past session.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	Orchestrator bool      `json:"orchestrator"`
	Voice        bool      `json:"voice"`
}

// MessagePreview is a single rendered message in a session preview.
type MessagePreview struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SessionDetail extends SessionInfo with a message preview.
type SessionDetail struct {
	SessionInfo
	Messages []MessagePreview `json:"messages"`
}

// Store lists and inspects the JSONL session logs of one project.
type Store struct {
	projectDir string
}

// NewStore creates a store over <project>/context.
func NewStore(projectDir string) *Store {
	return &Store{projectDir: projectDir}
}

// Dir returns the sessions directory.
func (s *Store) Dir() string { return config.SessionsDir(s.projectDir) }

// LogPath returns the JSONL path for a session id.
func (s *Store) LogPath(sessionID string) string {
	return config.SessionLogPath(s.projectDir, sessionID)
}

// List returns all sessions, most recently active first.
func (s *Store) List() ([]SessionInfo, error) {
	dir := s.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	titles := LoadTitles(config.TitlesPath(s.projectDir))

	var infos []SessionInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		info, err := s.info(id, titles)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivity.After(infos[j].LastActivity)
	})
	return infos, nil
}

// Info returns summary metadata for one session.
func (s *Store) Info(sessionID string) (SessionInfo, error) {
	titles := LoadTitles(config.TitlesPath(s.projectDir))
	return s.info(sessionID, titles)
}

// Detail returns session metadata plus the last maxMessages previews.
func (s *Store) Detail(sessionID string, maxMessages int) (*SessionDetail, error) {
	path := s.LogPath(sessionID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	titles := LoadTitles(config.TitlesPath(s.projectDir))
	info, err := s.info(sessionID, titles)
	if err != nil {
		return nil, err
	}

	previews := Previews(ReadRecords(path))
	if maxMessages > 0 && len(previews) > maxMessages {
		previews = previews[len(previews)-maxMessages:]
	}
	return &SessionDetail{SessionInfo: info, Messages: previews}, nil
}

// SetTitle stores a custom title for a session.
func (s *Store) SetTitle(sessionID, title string) error {
	path := config.TitlesPath(s.projectDir)
	titles := LoadTitles(path)
	if title == "" {
		delete(titles, sessionID)
	} else {
		titles[sessionID] = title
	}
	return SaveTitles(path, titles)
}

// Delete removes a session log and its custom title. This is the only
// code path that deletes a log file.
func (s *Store) Delete(sessionID string) error {
	if err := os.Remove(s.LogPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session log: %w", err)
	}
	path := config.TitlesPath(s.projectDir)
	titles := LoadTitles(path)
	if _, ok := titles[sessionID]; ok {
		delete(titles, sessionID)
		return SaveTitles(path, titles)
	}
	return nil
}

func (s *Store) info(sessionID string, titles map[string]string) (SessionInfo, error) {
	path := s.LogPath(sessionID)
	stat, err := os.Stat(path)
	if err != nil {
		return SessionInfo{}, err
	}

	records := ReadRecords(path)

	info := SessionInfo{
		SessionID:    sessionID,
		StartedAt:    stat.ModTime(),
		LastActivity: stat.ModTime(),
	}

	var first, last time.Time
	for i, r := range records {
		if i == 0 && r.Type == "orchestrator_meta" {
			info.Orchestrator = true
			info.Voice = r.Voice
		}
		switch r.Type {
		case "user", "assistant":
			info.MessageCount++
			if info.Title == "" && r.Type == "user" && r.Message != nil {
				info.Title = truncateTitle(r.Message.PlainText())
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, r.Timestamp); err == nil {
			if first.IsZero() {
				first = ts
			}
			last = ts
		}
	}
	if !first.IsZero() {
		info.StartedAt = first
	}
	if !last.IsZero() {
		info.LastActivity = last
	}

	if custom, ok := titles[sessionID]; ok && custom != "" {
		info.Title = custom
	}
	if info.Title == "" {
		info.Title = sessionID
	}
	return info, nil
}

// Previews renders records as display messages: user/assistant text
// plus compact tool lines.
func Previews(records []Record) []MessagePreview {
	var out []MessagePreview
	for _, r := range records {
		switch r.Type {
		case "user", "assistant":
			if r.Message == nil {
				continue
			}
			text := r.Message.PlainText()
			if text == "" {
				continue
			}
			out = append(out, MessagePreview{Role: r.Message.Role, Text: text, Timestamp: r.Timestamp})
		case "tool_use":
			out = append(out, MessagePreview{Role: "assistant", Text: "[tool] " + r.ToolName, Timestamp: r.Timestamp})
		}
	}
	return out
}

func truncateTitle(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	runes := []rune(text)
	if len(runes) > titleMaxLen {
		return string(runes[:titleMaxLen]) + "…"
	}
	return text
}
