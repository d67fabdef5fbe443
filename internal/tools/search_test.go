package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/codedeck/codedeck/internal/config"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	path := filepath.Join(t.TempDir(), "search.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func searchContext(command ...string) *Context {
	return &Context{Config: &config.Config{
		Search: config.SearchConfig{Command: command, TimeoutSec: 5},
	}}
}

func TestSearchParsesResults(t *testing.T) {
	script := writeScript(t, `echo '[{"text": "found it", "score": 0.9}]'`)
	tc := searchContext(script)

	results := searchSubprocess(context.Background(), tc, "milk", "history", 5)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %v", results)
	}
	if results[0]["text"] != "found it" {
		t.Fatalf("unexpected result: %v", results[0])
	}
}

func TestSearchNoResultsSentinel(t *testing.T) {
	script := writeScript(t, `echo 'No results found.'`)
	tc := searchContext(script)

	results := searchSubprocess(context.Background(), tc, "milk", "memory", 5)
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %v", results)
	}
}

func TestSearchNonZeroExitIsEmpty(t *testing.T) {
	script := writeScript(t, `echo 'collection missing' >&2; exit 3`)
	tc := searchContext(script)

	results := searchSubprocess(context.Background(), tc, "milk", "history", 5)
	if len(results) != 0 {
		t.Fatalf("expected empty results on non-zero exit, got %v", results)
	}
}

func TestSearchGarbageOutputIsEmpty(t *testing.T) {
	script := writeScript(t, `echo 'not json at all'`)
	tc := searchContext(script)

	results := searchSubprocess(context.Background(), tc, "milk", "history", 5)
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %v", results)
	}
}

func TestSearchTimeout(t *testing.T) {
	script := writeScript(t, `sleep 10`)
	tc := &Context{Config: &config.Config{
		Search: config.SearchConfig{Command: []string{script}, TimeoutSec: 1},
	}}

	results := searchSubprocess(context.Background(), tc, "milk", "history", 5)
	if len(results) != 1 || results[0]["error"] != "Search timed out" {
		t.Fatalf("expected timeout marker, got %v", results)
	}
}

func TestSearchUnconfigured(t *testing.T) {
	tc := searchContext()
	results := searchSubprocess(context.Background(), tc, "milk", "history", 5)
	if len(results) != 1 {
		t.Fatalf("expected config error, got %v", results)
	}
	if _, ok := results[0]["error"]; !ok {
		t.Fatalf("expected error marker, got %v", results[0])
	}
}
