package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const defaultSearchResults = 5

// RegisterSearchTools registers the semantic-search tools. Both run
// the external search command in a subprocess so the index is never
// opened inside the server process.
func RegisterSearchTools(r *Registry) {
	r.Register(
		"search_history",
		"Search conversation history using semantic search.",
		searchSchema(),
		func(ctx context.Context, tc *Context, input map[string]any) (string, error) {
			return runSearch(ctx, tc, "history", input), nil
		},
	)
	r.Register(
		"search_memory",
		"Search memory files (ORCHESTRATOR_MEMORY.md and related docs) using semantic search.",
		searchSchema(),
		func(ctx context.Context, tc *Context, input map[string]any) (string, error) {
			return runSearch(ctx, tc, "memory", input), nil
		},
	)
}

func searchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results (default: 5).",
			},
		},
		"required": []any{"query"},
	}
}

func runSearch(ctx context.Context, tc *Context, collection string, input map[string]any) string {
	query := strArg(input, "query")
	maxResults := intArg(input, "max_results", defaultSearchResults)

	results := searchSubprocess(ctx, tc, query, collection, maxResults)
	return jsonResult(map[string]any{"query": query, "results": results, "count": len(results)})
}

// searchSubprocess runs the configured search command and parses its
// JSON output. Failures degrade to empty or error-marker results; the
// orchestrator turn always continues.
func searchSubprocess(ctx context.Context, tc *Context, query, collection string, maxResults int) []map[string]any {
	cmdline := tc.Config.Search.Command
	if len(cmdline) == 0 {
		return []map[string]any{{"error": "Search command not configured"}}
	}

	timeout := time.Duration(tc.Config.Search.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, cmdline[1:]...),
		query,
		"--collection", collection,
		"--n", strconv.Itoa(maxResults),
		"--json",
	)

	slog.Info("searching", "collection", collection, "query", query)

	cmd := exec.CommandContext(runCtx, cmdline[0], args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	stdout, err := cmd.Output()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		slog.Error("search subprocess timed out", "query", query)
		return []map[string]any{{"error": "Search timed out"}}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if sig := exitSignal(exitErr); sig != "" {
				slog.Error("search subprocess crashed",
					"signal", sig, "collection", collection, "stderr", strings.TrimSpace(stderr.String()))
				return []map[string]any{{"error": "Search crashed (signal " + sig + ")"}}
			}
			// Non-zero exit can mean an empty collection or missing index.
			slog.Warn("search returned non-zero exit",
				"code", exitErr.ExitCode(), "stderr", strings.TrimSpace(stderr.String()))
			return []map[string]any{}
		}
		slog.Error("search subprocess failed", "err", err)
		return []map[string]any{{"error": "Search failed: " + err.Error()}}
	}

	text := strings.TrimSpace(string(stdout))
	if text == "" || text == "No results found." {
		return []map[string]any{}
	}

	var results []map[string]any
	if err := json.Unmarshal([]byte(text), &results); err != nil {
		snippet := text
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		slog.Error("failed to parse search output", "output", snippet)
		return []map[string]any{}
	}
	slog.Info("search complete", "results", len(results))
	return results
}

// exitSignal returns the name of the signal that killed the process,
// or "" for a normal non-zero exit.
func exitSignal(err *exec.ExitError) string {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal().String()
	}
	return ""
}
