package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codedeck/codedeck/internal/events"
)

const (
	defaultClaudeModel  = "claude-sonnet-4-5-20250929"
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicProvider streams orchestrator turns from the Anthropic
// Messages API via net/http SSE.
type AnthropicProvider struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	client      *http.Client
	retryConfig RetryConfig
}

// NewAnthropicProvider creates a provider for the given model.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:      apiKey,
		baseURL:     anthropicAPIBase,
		model:       defaultClaudeModel,
		maxTokens:   8192,
		client:      &http.Client{Timeout: 300 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.model = model
		}
	}
}

func WithAnthropicMaxTokens(n int) AnthropicOption {
	return func(p *AnthropicProvider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

// CreateMessage streams one model response. Events arrive per content
// block: TextDelta while a text block streams, TextComplete when it
// closes, ToolUse when a tool_use block closes with its input parsed
// from the accumulated partial JSON. The stream ends with TurnComplete
// carrying token usage, or with an Error.
func (p *AnthropicProvider) CreateMessage(ctx context.Context, messages []Message, tools []map[string]any, system string) <-chan events.Event {
	out := make(chan events.Event, 64)

	go func() {
		defer close(out)

		body := p.buildRequestBody(messages, tools, system, true)

		// Retry only the connection phase; once streaming starts, no retry.
		respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
			return p.doRequest(ctx, body)
		})
		if err != nil {
			out <- events.Error{Kind: events.ErrAPIError, Detail: err.Error()}
			return
		}
		defer respBody.Close()

		if err := p.scanStream(ctx, respBody, out); err != nil {
			out <- events.Error{Kind: events.ErrProviderError, Detail: err.Error()}
		}
	}()

	return out
}

func (p *AnthropicProvider) scanStream(ctx context.Context, body io.Reader, out chan<- events.Event) error {
	var (
		currentEvent  string
		blockType     string
		textBuf       strings.Builder
		toolID        string
		toolName      string
		toolInputJSON strings.Builder
		usage         events.Usage
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEvent {
		case "message_start":
			var ev anthropicMessageStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
			}

		case "content_block_start":
			var ev anthropicContentBlockStartEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			blockType = ev.ContentBlock.Type
			switch blockType {
			case "text":
				textBuf.Reset()
			case "tool_use":
				toolID = ev.ContentBlock.ID
				toolName = ev.ContentBlock.Name
				toolInputJSON.Reset()
			}

		case "content_block_delta":
			var ev anthropicContentBlockDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				textBuf.WriteString(ev.Delta.Text)
				out <- events.TextDelta{Text: ev.Delta.Text}
			case "input_json_delta":
				toolInputJSON.WriteString(ev.Delta.PartialJSON)
			}

		case "content_block_stop":
			switch blockType {
			case "text":
				if textBuf.Len() > 0 {
					out <- events.TextComplete{Text: textBuf.String()}
				}
			case "tool_use":
				input := map[string]any{}
				if raw := toolInputJSON.String(); raw != "" {
					if err := json.Unmarshal([]byte(raw), &input); err != nil {
						slog.Warn("anthropic: unparsable tool input", "tool", toolName, "err", err)
						input = map[string]any{}
					}
				}
				out <- events.ToolUse{ID: toolID, Name: toolName, Input: input}
			}
			blockType = ""

		case "message_delta":
			var ev anthropicMessageDeltaEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				if ev.Usage.OutputTokens > 0 {
					usage.OutputTokens = ev.Usage.OutputTokens
				}
			}

		case "error":
			var ev anthropicErrorEvent
			if err := json.Unmarshal([]byte(data), &ev); err == nil {
				return fmt.Errorf("stream error: %s: %s", ev.Error.Type, ev.Error.Message)
			}

		case "message_stop":
			// Stream complete.
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	out <- events.TurnComplete{Usage: usage}
	return nil
}

// Complete performs a non-streaming request and returns the text
// response. Used for history summarization.
func (p *AnthropicProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	body := p.buildRequestBody([]Message{TextMessage("user", prompt)}, nil, system, false)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var resp anthropicResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func (p *AnthropicProvider) buildRequestBody(messages []Message, tools []map[string]any, system string, stream bool) map[string]any {
	body := map[string]any{
		"model":      p.model,
		"max_tokens": p.maxTokens,
		"messages":   messages,
	}
	if system != "" {
		body["system"] = system
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (p *AnthropicProvider) doRequest(ctx context.Context, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("anthropic: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}

// --- Anthropic API types (internal) ---

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Streaming event types ---

type anthropicMessageStartEvent struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicContentBlockStartEvent struct {
	Index        int                   `json:"index"`
	ContentBlock anthropicContentBlock `json:"content_block"`
}

type anthropicContentBlockDeltaEvent struct {
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type anthropicMessageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
