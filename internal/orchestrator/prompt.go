package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codedeck/codedeck/internal/pool"
	"github.com/codedeck/codedeck/internal/providers"
)

const (
	maxMemoryChars     = 12000
	maxHistoryMessages = 20
	maxHistoryChars    = 6000
)

// promptInput collects everything the system prompt is built from.
type promptInput struct {
	memoryPath     string
	projectDir     string
	sessions       []pool.SessionStat
	history        []providers.Message
	historySummary string
}

// buildSystemPrompt assembles the orchestrator's system prompt: role,
// active session state, memory contents, guidelines, and optionally
// recent conversation history (needed when resuming a session or
// switching between text and voice modes).
func buildSystemPrompt(in promptInput) string {
	sections := []string{
		roleSection(),
		activeSessionsSection(in.sessions),
		memorySection(in.memoryPath, in.projectDir),
		guidelinesSection(),
	}
	if h := historySection(in.history, in.historySummary); h != "" {
		sections = append(sections, h)
	}
	return strings.Join(sections, "\n\n")
}

func roleSection() string {
	return `You are an orchestrator agent that coordinates multiple coding-agent instances.

You can open, monitor, and communicate with coding-agent sessions to accomplish complex tasks.
You have access to the project's conversation history and memory via search tools, and can read/write files in the project directory.

## UI Context

The user interacts with you through a multi-tab web interface. Each agent session you open appears as a **tab** in their browser — the user may say "tab" to refer to an open agent session. Opening a session creates a new tab; closing one removes that tab. The user can click a session in the sidebar to switch to its tab, or close tabs directly from the browser UI.

## Your Job

- Understand user requests and break them into tasks for agent sessions
- Open coding-agent sessions and delegate work to them
- Monitor their progress and collect results
- Coordinate multi-step workflows across sessions
- Maintain your own persistent memory for cross-session context`
}

func activeSessionsSection(sessions []pool.SessionStat) string {
	if len(sessions) == 0 {
		return "## Active Agent Sessions\nNo agent sessions are currently active."
	}
	lines := []string{"## Active Agent Sessions"}
	for _, s := range sessions {
		lines = append(lines, fmt.Sprintf("- `%s`: status=%s, turns=%d, cost=$%.4f",
			s.SessionID, s.Status, s.Turns, s.Cost))
	}
	return strings.Join(lines, "\n")
}

func memorySection(memoryPath, projectDir string) string {
	var memoryContent string
	if data, err := os.ReadFile(memoryPath); err == nil {
		raw := string(data)
		if len(raw) > maxMemoryChars {
			raw = raw[:maxMemoryChars] + "\n... (truncated)"
		}
		memoryContent = raw
	}

	relativePath := memoryPath
	if projectDir != "" && filepath.IsAbs(memoryPath) {
		if rel, err := filepath.Rel(projectDir, memoryPath); err == nil && !strings.HasPrefix(rel, "..") {
			relativePath = rel
		}
	}

	section := fmt.Sprintf(`## Orchestrator Memory

### Primary memory file
Your persistent memory index is at `+"`%s`"+`.
Use `+"`read_file`"+` and `+"`write_file`"+` to read and update it.

**Important — `+"`write_file`"+` is a full overwrite.** There is no append operation.
When updating this file, always read it first, then write the complete new content.
Never omit existing entries unless they are clearly stale or superseded.
Keep this file concise (under ~150 lines) — move detailed context to separate files.

### Extended memory files
For detailed notes that would bloat the index file, write separate files in the same memory directory:
`+"`%s`"+`

These files are automatically indexed for vector search. You can retrieve them with `+"`search_memory`"+`.
Use this for: detailed plans, architectural decisions, per-project context, research results.

### Retrieving memories
Use `+"`search_memory`"+` to find relevant context from **all** memory files (yours and the agents').
Use `+"`search_history`"+` to find relevant context from past conversation turns.
Always search before starting non-trivial work — relevant context may already exist.`,
		relativePath,
		strings.Replace(relativePath, "ORCHESTRATOR_MEMORY.md", "<topic>.md", 1))

	if memoryContent != "" {
		section += "\n\n### Current Memory Contents\n```\n" + memoryContent + "\n```"
	} else {
		section += "\n\nThe memory file is currently empty. Create it when you have something worth remembering."
	}
	return section
}

func guidelinesSection() string {
	return `## Guidelines

- **Search first**: Before starting any non-trivial task, use ` + "`search_memory`" + ` and ` + "`search_history`" + ` — relevant context from past sessions is often already there
- **Be efficient**: Open sessions only when needed, close them when done
- **Be informative**: Report progress and results back to the user
- **Delegate clearly**: Give agent sessions specific, actionable instructions with enough context to work independently
- **Track state**: Update your memory file when you learn something worth keeping across sessions
- **One thing at a time**: Wait for an agent's response before sending the next message`
}

// historySection renders recent conversation turns for the prompt.
// Tool blocks are summarized rather than dumped; the whole section is
// capped at maxHistoryChars.
func historySection(history []providers.Message, summary string) string {
	if len(history) == 0 {
		return ""
	}

	recent := history
	if len(recent) > maxHistoryMessages {
		recent = recent[len(recent)-maxHistoryMessages:]
	}

	lines := []string{
		"## Recent Conversation History",
		"(from your previous text/voice conversation in this session)\n",
	}
	if summary != "" {
		lines = append(lines,
			"### Earlier Conversation Summary",
			strings.TrimSpace(summary),
			"\n### Recent Messages")
	}

	for _, msg := range recent {
		label := "Assistant"
		if msg.Role == "user" {
			label = "User"
		}
		if len(msg.Blocks) == 0 {
			if text := strings.TrimSpace(msg.Text); text != "" {
				lines = append(lines, fmt.Sprintf("**%s:** %s", label, text))
			}
			continue
		}
		var parts []string
		for _, block := range msg.Blocks {
			switch block.Type {
			case "text":
				if text := strings.TrimSpace(block.Text); text != "" {
					parts = append(parts, text)
				}
			case "tool_use":
				parts = append(parts, fmt.Sprintf("[used tool: %s]", block.Name))
			case "tool_result":
				preview := block.Content
				if len(preview) > 200 {
					preview = preview[:200] + "..."
				}
				parts = append(parts, fmt.Sprintf("[tool result: %s]", preview))
			}
		}
		if len(parts) > 0 {
			lines = append(lines, fmt.Sprintf("**%s:** %s", label, strings.Join(parts, " ")))
		}
	}

	section := strings.Join(lines, "\n")
	if len(section) > maxHistoryChars {
		section = section[:maxHistoryChars] + "\n... (history truncated)"
	}
	return section
}
