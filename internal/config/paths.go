package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ClaudeConfigDir returns the coding agent's config directory:
// $CLAUDE_CONFIG_DIR if set, else ~/.claude.
func ClaudeConfigDir() string {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// ManglePath converts an absolute path to the agent's mangled directory
// name: "/a/b" becomes "-a-b".
func ManglePath(projectDir string) string {
	return strings.ReplaceAll(strings.TrimRight(projectDir, "/"), "/", "-")
}

// SessionsDir returns the directory holding orchestrator JSONL logs for
// a project.
func SessionsDir(projectDir string) string {
	return filepath.Join(projectDir, "context")
}

// SessionLogPath returns the JSONL path for one session.
func SessionLogPath(projectDir, sessionID string) string {
	return filepath.Join(SessionsDir(projectDir), sessionID+".jsonl")
}

// TitlesPath returns the custom-titles sidecar for a project.
func TitlesPath(projectDir string) string {
	return filepath.Join(SessionsDir(projectDir), ".titles.json")
}

// MemoryDir returns the orchestrator memory directory for a project.
func MemoryDir(projectDir string) string {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = projectDir
	}
	return filepath.Join(ClaudeConfigDir(), "projects", ManglePath(abs), "memory")
}

// MemoryFilePath returns the orchestrator's persistent memory file.
func MemoryFilePath(projectDir string) string {
	return filepath.Join(MemoryDir(projectDir), "ORCHESTRATOR_MEMORY.md")
}
