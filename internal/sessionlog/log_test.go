package sessionlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/codedeck/codedeck/internal/providers"
)

func TestWriterAppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "s1.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	w.Append(MetaRecord("s1", false, "", ""))
	w.Append(UserRecord("hello", ""))
	w.Append(AssistantRecord("hi there", ""))

	records := ReadRecords(path)
	if len(records) != 3 {
		t.Fatalf("len(records) = %d", len(records))
	}
	if records[0].Type != "orchestrator_meta" || !records[0].Orchestrator {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].Message.PlainText() != "hello" {
		t.Errorf("user text = %q", records[1].Message.PlainText())
	}
}

func TestReadRecordsSkipsInvalidLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	content := `{"type":"user","message":{"role":"user","content":"ok"}}
not json at all
{"type":"assistant","message":{"role":"assistant","content":"fine"}}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	records := ReadRecords(path)
	if len(records) != 2 {
		t.Fatalf("len(records) = %d", len(records))
	}
}

func TestReadRecordsMissingFile(t *testing.T) {
	if records := ReadRecords(filepath.Join(t.TempDir(), "nope.jsonl")); records != nil {
		t.Fatalf("records = %v", records)
	}
}

func TestReconstructPlainConversation(t *testing.T) {
	records := []Record{
		MetaRecord("s1", false, "", ""),
		UserRecord("question", ""),
		AssistantRecord("answer", ""),
	}
	history := Reconstruct(records)
	if len(history) != 2 {
		t.Fatalf("len(history) = %d", len(history))
	}
	if history[0].Role != "user" || history[0].PlainText() != "question" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].PlainText() != "answer" {
		t.Errorf("history[1] = %+v", history[1])
	}
}

// A turn with a tool call reconstructs as four messages: the user
// prompt, the assistant tool_use block, the synthetic user message
// carrying the tool_result, and the final assistant text.
func TestReconstructToolTurn(t *testing.T) {
	records := []Record{
		UserRecord("list sessions", ""),
		ToolUseRecord("tu_1", "list_agent_sessions", map[string]any{}, ""),
		ToolResultRecord("tu_1", `{"sessions":[]}`, false, ""),
		AssistantRecord("no sessions open", ""),
	}
	history := Reconstruct(records)
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4", len(history))
	}

	if history[1].Role != "assistant" || len(history[1].Blocks) != 1 || history[1].Blocks[0].Type != "tool_use" {
		t.Errorf("history[1] = %+v", history[1])
	}
	if history[1].Blocks[0].ID != "tu_1" || history[1].Blocks[0].Name != "list_agent_sessions" {
		t.Errorf("tool_use block = %+v", history[1].Blocks[0])
	}

	if history[2].Role != "user" || len(history[2].Blocks) != 1 || history[2].Blocks[0].Type != "tool_result" {
		t.Errorf("history[2] = %+v", history[2])
	}
	if history[2].Blocks[0].ToolUseID != "tu_1" {
		t.Errorf("tool_result block = %+v", history[2].Blocks[0])
	}

	if history[3].Role != "assistant" || history[3].PlainText() != "no sessions open" {
		t.Errorf("history[3] = %+v", history[3])
	}
}

func TestReconstructAssistantTextBeforeToolUse(t *testing.T) {
	records := []Record{
		UserRecord("go", ""),
		AssistantRecord("let me check", ""),
		ToolUseRecord("tu_1", "read_file", map[string]any{"path": "a.txt"}, ""),
		ToolResultRecord("tu_1", "contents", false, ""),
		AssistantRecord("done", ""),
	}
	history := Reconstruct(records)

	// The plain text flushes on its own; the tool_use becomes a
	// separate assistant message.
	if len(history) != 5 {
		t.Fatalf("len(history) = %d, want 5", len(history))
	}
	if history[1].PlainText() != "let me check" {
		t.Errorf("history[1] = %+v", history[1])
	}
	if len(history[2].Blocks) != 1 || history[2].Blocks[0].Type != "tool_use" {
		t.Errorf("history[2] = %+v", history[2])
	}
}

func TestReconstructGroupsConsecutiveResults(t *testing.T) {
	records := []Record{
		UserRecord("go", ""),
		ToolUseRecord("tu_1", "read_file", nil, ""),
		ToolUseRecord("tu_2", "read_file", nil, ""),
		ToolResultRecord("tu_1", "a", false, ""),
		ToolResultRecord("tu_2", "b", true, ""),
		AssistantRecord("both read", ""),
	}
	history := Reconstruct(records)
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4", len(history))
	}
	if len(history[1].Blocks) != 2 {
		t.Errorf("assistant tool_use blocks = %d", len(history[1].Blocks))
	}
	results := history[2]
	if results.Role != "user" || len(results.Blocks) != 2 {
		t.Fatalf("results message = %+v", results)
	}
	if !results.Blocks[1].IsError {
		t.Error("second result lost is_error")
	}
}

func TestReconstructSkipsMetadataRecords(t *testing.T) {
	records := []Record{
		MetaRecord("s1", true, "gpt-realtime", "cedar"),
		UserRecord("hi", "voice_transcription"),
		VoiceInterruptedRecord(),
		AssistantRecord("hello", "voice_response"),
	}
	history := Reconstruct(records)
	if len(history) != 2 {
		t.Fatalf("len(history) = %d", len(history))
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Append(UserRecord("ping", ""))
	w.Append(AssistantRecord("pong", ""))

	history := Load(path)
	want := []providers.Message{
		providers.TextMessage("user", "ping"),
		providers.TextMessage("assistant", "pong"),
	}
	if len(history) != len(want) {
		t.Fatalf("len(history) = %d", len(history))
	}
	for i := range want {
		if history[i].Role != want[i].Role || history[i].PlainText() != want[i].PlainText() {
			t.Errorf("history[%d] = %+v", i, history[i])
		}
	}
}
