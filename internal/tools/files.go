package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxReadBytes caps read_file output.
const maxReadBytes = 100_000

// RegisterFileTools registers the project-confined file I/O tools.
func RegisterFileTools(r *Registry) {
	r.Register(
		"read_file",
		"Read a file from the project directory. Path is relative to project root.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path to the file (e.g., 'README.md' or 'context/notes.md').",
				},
			},
			"required": []any{"path"},
		},
		readFile,
	)

	r.Register(
		"write_file",
		"Write content to a file in the project directory. Creates parent directories if needed.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path to the file.",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The content to write to the file.",
				},
			},
			"required": []any{"path", "content"},
		},
		writeFile,
	)
}

// resolveSafePath confines a relative path to the project directory.
// Returns "" when the resolved path escapes it.
func resolveSafePath(baseDir, relative string) string {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}
	target := filepath.Clean(filepath.Join(base, relative))

	// Resolve symlinks on the longest existing ancestor so a link
	// inside the project cannot point outside it.
	probe := target
	for {
		if resolved, err := filepath.EvalSymlinks(probe); err == nil {
			target = filepath.Join(resolved, strings.TrimPrefix(target, probe))
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return target
}

func readFile(ctx context.Context, tc *Context, input map[string]any) (string, error) {
	path := strArg(input, "path")
	if tc.ProjectDir == "" {
		return errorResult("Project directory not configured"), nil
	}

	target := resolveSafePath(tc.ProjectDir, path)
	if target == "" {
		return errorResult("Path escapes project directory"), nil
	}

	stat, err := os.Stat(target)
	if err != nil || stat.IsDir() {
		return errorResult(fmt.Sprintf("File not found: %s", path)), nil
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to read file: %v", err)), nil
	}
	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + fmt.Sprintf("\n... (truncated at %d bytes)", maxReadBytes)
	}
	return jsonResult(map[string]any{"path": path, "content": content}), nil
}

func writeFile(ctx context.Context, tc *Context, input map[string]any) (string, error) {
	path := strArg(input, "path")
	content := strArg(input, "content")
	if tc.ProjectDir == "" {
		return errorResult("Project directory not configured"), nil
	}

	target := resolveSafePath(tc.ProjectDir, path)
	if target == "" {
		return errorResult("Path escapes project directory"), nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errorResult(fmt.Sprintf("Failed to write file: %v", err)), nil
	}
	if err := os.WriteFile(target, []byte(content), 0644); err != nil {
		return errorResult(fmt.Sprintf("Failed to write file: %v", err)), nil
	}
	return jsonResult(map[string]any{"path": path, "status": "written", "bytes": len(content)}), nil
}
