package sessionlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTitlesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context", ".titles.json")

	if titles := LoadTitles(path); len(titles) != 0 {
		t.Fatalf("missing file titles = %v", titles)
	}

	want := map[string]string{"abc": "First task", "def": "Second"}
	if err := SaveTitles(path, want); err != nil {
		t.Fatalf("SaveTitles: %v", err)
	}

	got := LoadTitles(path)
	if len(got) != 2 || got["abc"] != "First task" || got["def"] != "Second" {
		t.Errorf("LoadTitles = %v", got)
	}
}

func TestLoadTitlesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".titles.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if titles := LoadTitles(path); len(titles) != 0 {
		t.Errorf("corrupt file titles = %v", titles)
	}
}
