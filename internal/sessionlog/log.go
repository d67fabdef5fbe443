package sessionlog

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/codedeck/codedeck/internal/providers"
)

// Writer appends records to a session JSONL file. Write failures are
// logged and swallowed: a failing disk must not break a live
// conversation.
type Writer struct {
	path string
}

// NewWriter creates a writer for the given JSONL path, creating parent
// directories as needed.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Writer{path: path}, nil
}

// Path returns the JSONL file path.
func (w *Writer) Path() string { return w.path }

// Append writes one record as a single JSON line.
func (w *Writer) Append(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		slog.Warn("sessionlog: marshal record", "path", w.path, "err", err)
		return
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Warn("sessionlog: open for append", "path", w.path, "err", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		slog.Warn("sessionlog: append", "path", w.path, "err", err)
	}
}

// ReadRecords reads all valid records from a JSONL file. Invalid lines
// are skipped with a warning; a missing file yields an empty slice.
func ReadRecords(path string) []Record {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("sessionlog: read", "path", path, "err", err)
		}
		return nil
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			slog.Warn("sessionlog: invalid JSON line",
				"path", filepath.Base(path), "line", lineNum, "err", err)
			continue
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("sessionlog: scan", "path", path, "err", err)
	}
	return records
}

// Load reads a JSONL file and reconstructs the conversation history in
// provider message format.
func Load(path string) []providers.Message {
	return Reconstruct(ReadRecords(path))
}

// Reconstruct rebuilds a provider history from log records.
//
// Consecutive assistant text and tool_use records group into a single
// assistant message; consecutive tool_result records group into a
// synthetic user message. Metadata records (orchestrator_meta,
// voice_interrupted) are skipped. An assistant record with no pending
// tool calls flushes immediately as a pure text response.
func Reconstruct(records []Record) []providers.Message {
	var history []providers.Message
	var pendingAssistant []providers.Block
	var pendingResults []providers.Block

	flushAssistant := func() {
		if len(pendingAssistant) > 0 {
			history = append(history, providers.BlockMessage("assistant", pendingAssistant))
			pendingAssistant = nil
		}
	}
	flushResults := func() {
		if len(pendingResults) > 0 {
			history = append(history, providers.BlockMessage("user", pendingResults))
			pendingResults = nil
		}
	}

	for _, r := range records {
		switch r.Type {
		case "orchestrator_meta", "voice_interrupted":
			continue

		case "user":
			flushAssistant()
			flushResults()
			if r.Message == nil {
				continue
			}
			if r.Message.Text != "" || len(r.Message.Blocks) > 0 {
				history = append(history, *r.Message)
			}

		case "assistant":
			flushResults()
			if r.Message != nil {
				if r.Message.Text != "" {
					pendingAssistant = append(pendingAssistant, providers.Block{Type: "text", Text: r.Message.Text})
				} else {
					pendingAssistant = append(pendingAssistant, r.Message.Blocks...)
				}
			}
			if !hasToolCalls(pendingAssistant) {
				flushAssistant()
			}

		case "tool_use":
			pendingAssistant = append(pendingAssistant, providers.Block{
				Type:  "tool_use",
				ID:    r.ToolCallID,
				Name:  r.ToolName,
				Input: r.ToolInput,
			})

		case "tool_result":
			flushAssistant()
			pendingResults = append(pendingResults, providers.Block{
				Type:      "tool_result",
				ToolUseID: r.ToolCallID,
				Content:   r.Output,
				IsError:   r.IsError,
			})
		}
	}

	flushAssistant()
	flushResults()
	return history
}

func hasToolCalls(blocks []providers.Block) bool {
	for _, b := range blocks {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}
