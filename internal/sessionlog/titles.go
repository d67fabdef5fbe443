package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LoadTitles reads the custom-titles sidecar: a flat object mapping
// session_id to title. A missing or corrupt file yields an empty map.
func LoadTitles(path string) map[string]string {
	titles := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		return titles
	}
	if err := json.Unmarshal(data, &titles); err != nil {
		return map[string]string{}
	}
	return titles
}

// SaveTitles writes the titles sidecar atomically (temp file + rename).
func SaveTitles(path string, titles map[string]string) error {
	data, err := json.MarshalIndent(titles, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal titles: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".titles-*.json")
	if err != nil {
		return fmt.Errorf("create temp titles: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write titles: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync titles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close titles: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename titles: %w", err)
	}
	return nil
}
