// Package providers implements the model backends for the orchestrator:
// a streaming Anthropic text provider and a queue-driven voice provider
// fed by mirrored OpenAI Realtime events.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codedeck/codedeck/internal/events"
)

// Provider streams one model response as a sequence of events.
//
// The returned channel is closed when the response is complete. Errors
// are delivered in-band as events.Error and terminate the stream.
type Provider interface {
	CreateMessage(ctx context.Context, messages []Message, tools []map[string]any, system string) <-chan events.Event
}

// Block is a structured content block within a message.
type Block struct {
	Type      string         // "text" | "tool_use" | "tool_result"
	Text      string         // text blocks
	ID        string         // tool_use
	Name      string         // tool_use
	Input     map[string]any // tool_use
	ToolUseID string         // tool_result
	Content   string         // tool_result
	IsError   bool           // tool_result
}

func (b Block) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": b.Type}
	switch b.Type {
	case "text":
		m["text"] = b.Text
	case "tool_use":
		m["id"] = b.ID
		m["name"] = b.Name
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		m["input"] = input
	case "tool_result":
		m["tool_use_id"] = b.ToolUseID
		m["content"] = b.Content
		if b.IsError {
			m["is_error"] = true
		}
	default:
		return nil, fmt.Errorf("unknown block type %q", b.Type)
	}
	return json.Marshal(m)
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      string         `json:"type"`
		Text      string         `json:"text"`
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Input     map[string]any `json:"input"`
		ToolUseID string         `json:"tool_use_id"`
		Content   string         `json:"content"`
		IsError   bool           `json:"is_error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Block{
		Type:      raw.Type,
		Text:      raw.Text,
		ID:        raw.ID,
		Name:      raw.Name,
		Input:     raw.Input,
		ToolUseID: raw.ToolUseID,
		Content:   raw.Content,
		IsError:   raw.IsError,
	}
	return nil
}

// Message is one entry in a conversation history. Content is either
// plain Text or a list of Blocks; Blocks wins when non-empty.
type Message struct {
	Role   string
	Text   string
	Blocks []Block
}

// TextMessage builds a plain-text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Text: text}
}

// BlockMessage builds a structured message.
func BlockMessage(role string, blocks []Block) Message {
	return Message{Role: role, Blocks: blocks}
}

func (m Message) MarshalJSON() ([]byte, error) {
	var content any = m.Text
	if len(m.Blocks) > 0 {
		content = m.Blocks
	}
	return json.Marshal(map[string]any{
		"role":    m.Role,
		"content": content,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Text = ""
	m.Blocks = nil
	if len(raw.Content) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Text = text
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(raw.Content, &blocks); err != nil {
		return fmt.Errorf("message content is neither string nor block list: %w", err)
	}
	m.Blocks = blocks
	return nil
}

// PlainText returns the text content of a message: Text for plain
// messages, the concatenated text blocks otherwise.
func (m Message) PlainText() string {
	if len(m.Blocks) == 0 {
		return m.Text
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
