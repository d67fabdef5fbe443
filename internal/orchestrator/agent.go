// Package orchestrator implements the coordinating agent: a model
// loop with non-blocking tool execution, plus the session wrapper that
// persists turns to JSONL and serves both text and voice providers.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/codedeck/codedeck/internal/events"
	"github.com/codedeck/codedeck/internal/pool"
	"github.com/codedeck/codedeck/internal/providers"
	"github.com/codedeck/codedeck/internal/tools"
)

const (
	// maxToolLoops bounds the model/tool round-trips per user turn.
	maxToolLoops = 20
	// heartbeatInterval spaces progress events for long-running tools.
	heartbeatInterval = 5 * time.Second
	// interruptPoll is how often the executor checks the interrupt flag
	// while waiting for tool results.
	interruptPoll = 500 * time.Millisecond
)

// Agent runs user turns through a model provider and executes the
// tools it requests. Tool execution is non-blocking: progress events
// keep flowing while tools run, so subscribers never stall.
type Agent struct {
	provider providers.Provider
	registry *tools.Registry
	toolCtx  *tools.Context

	memoryPath string

	mu      sync.Mutex
	history []providers.Message

	interrupted atomic.Bool

	runMu     sync.Mutex
	cancelRun context.CancelFunc

	// Shortened in tests.
	heartbeat time.Duration
	poll      time.Duration

	tracer trace.Tracer
}

// NewAgent creates an agent over a provider and tool registry.
func NewAgent(provider providers.Provider, registry *tools.Registry, toolCtx *tools.Context, memoryPath string) *Agent {
	return &Agent{
		provider:   provider,
		registry:   registry,
		toolCtx:    toolCtx,
		memoryPath: memoryPath,
		heartbeat:  heartbeatInterval,
		poll:       interruptPoll,
		tracer:     otel.Tracer("codedeck/orchestrator"),
	}
}

// History returns a copy of the conversation history.
func (a *Agent) History() []providers.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]providers.Message, len(a.history))
	copy(out, a.history)
	return out
}

// SetHistory replaces the conversation history (used when resuming).
func (a *Agent) SetHistory(history []providers.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = history
}

func (a *Agent) appendHistory(msg providers.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, msg)
}

// Interrupt aborts the current turn. Takes effect between provider
// events and at the next executor poll; the run context is cancelled
// so an in-flight provider stream shuts down too.
func (a *Agent) Interrupt() {
	a.interrupted.Store(true)
	a.runMu.Lock()
	if a.cancelRun != nil {
		a.cancelRun()
	}
	a.runMu.Unlock()
}

// Run drives one user turn through the agent loop, streaming events on
// the returned channel. The channel is closed when the turn ends.
func (a *Agent) Run(ctx context.Context, prompt string) <-chan events.Event {
	out := make(chan events.Event, 64)
	runCtx, cancel := context.WithCancel(ctx)
	a.runMu.Lock()
	a.cancelRun = cancel
	a.runMu.Unlock()
	go func() {
		defer close(out)
		defer cancel()
		a.run(runCtx, prompt, out)
	}()
	return out
}

func (a *Agent) run(ctx context.Context, prompt string, out chan<- events.Event) {
	ctx, span := a.tracer.Start(ctx, "orchestrator.turn")
	defer span.End()

	a.interrupted.Store(false)
	a.appendHistory(providers.TextMessage("user", prompt))

	defs := a.registry.Definitions()

	var usage events.Usage

	for loop := 0; loop < maxToolLoops; loop++ {
		if a.interrupted.Load() {
			out <- events.Error{Kind: events.ErrInterrupted, Detail: "Agent was interrupted"}
			return
		}

		// Rebuilt every iteration: tool calls change the active-session
		// snapshot and the memory file mid-turn.
		system := buildSystemPrompt(promptInput{
			memoryPath: a.memoryPath,
			projectDir: a.toolCtx.ProjectDir,
			sessions:   a.poolSessions(),
			history:    a.History(),
		})

		var assistantBlocks []providers.Block
		var toolCalls []events.ToolUse

		stream := a.provider.CreateMessage(ctx, a.History(), defs, system)
		for ev := range stream {
			if a.interrupted.Load() {
				go drainEvents(stream)
				out <- events.Error{Kind: events.ErrInterrupted, Detail: "Agent was interrupted"}
				return
			}
			switch e := ev.(type) {
			case events.TextDelta, events.ThinkingDelta, events.ThinkingComplete:
				out <- ev
			case events.TextComplete:
				assistantBlocks = append(assistantBlocks, providers.Block{Type: "text", Text: e.Text})
				out <- ev
			case events.ToolUse:
				toolCalls = append(toolCalls, e)
				assistantBlocks = append(assistantBlocks, providers.Block{
					Type: "tool_use", ID: e.ID, Name: e.Name, Input: e.Input,
				})
				out <- ev
			case events.TurnComplete:
				usage.InputTokens += e.Usage.InputTokens
				usage.OutputTokens += e.Usage.OutputTokens
			case events.Error:
				out <- ev
				return
			}
		}

		if len(assistantBlocks) > 0 {
			a.appendHistory(providers.BlockMessage("assistant", assistantBlocks))
		}

		if len(toolCalls) == 0 {
			break
		}
		if a.interrupted.Load() {
			out <- events.Error{Kind: events.ErrInterrupted, Detail: "Agent was interrupted during tool execution"}
			return
		}

		results, ok := a.executeTools(ctx, toolCalls, out)
		if !ok {
			return
		}

		// Tool results go back as a synthetic user message, in the
		// original call order.
		var resultBlocks []providers.Block
		for _, tc := range toolCalls {
			result, found := results[tc.ID]
			if !found {
				continue
			}
			resultBlocks = append(resultBlocks, providers.Block{
				Type:      "tool_result",
				ToolUseID: tc.ID,
				Content:   result,
				IsError:   tools.IsErrorResult(result),
			})
		}
		if len(resultBlocks) > 0 {
			a.appendHistory(providers.BlockMessage("user", resultBlocks))
		}
	}

	out <- events.TurnComplete{Usage: usage}
}

// executeTools runs all requested tools concurrently, streaming
// ToolExecuting, ToolProgress and ToolResult events. Returns the
// results by call id and false when the run was interrupted.
func (a *Agent) executeTools(ctx context.Context, toolCalls []events.ToolUse, out chan<- events.Event) (map[string]string, bool) {
	toolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan events.Event, 16)
	abandoned := make(chan struct{})
	defer close(abandoned)

	emit := func(ev events.Event) {
		select {
		case queue <- ev:
		case <-abandoned:
		}
	}

	var mu sync.Mutex
	results := make(map[string]string, len(toolCalls))
	started := make(map[string]time.Time, len(toolCalls))
	pending := make(map[string]string, len(toolCalls)) // call id -> tool name

	for _, tc := range toolCalls {
		mu.Lock()
		started[tc.ID] = time.Now()
		pending[tc.ID] = tc.Name
		mu.Unlock()
	}

	for _, tc := range toolCalls {
		go func(tc events.ToolUse) {
			emit(events.ToolExecuting{ID: tc.ID, Name: tc.Name})

			execCtx, span := a.tracer.Start(toolCtx, "tool.execute",
				trace.WithAttributes(attribute.String("tool.name", tc.Name)))
			result := a.registry.Execute(execCtx, tc.Name, tc.Input, a.toolCtx)
			span.End()

			isError := tools.IsErrorResult(result)
			if toolCtx.Err() != nil {
				result = `{"error": "Tool execution cancelled"}`
				isError = true
			}

			mu.Lock()
			results[tc.ID] = result
			delete(pending, tc.ID)
			mu.Unlock()

			emit(events.ToolResult{ID: tc.ID, Output: result, IsError: isError})
		}(tc)
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(a.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				var beats []events.ToolProgress
				mu.Lock()
				for id, name := range pending {
					beats = append(beats, events.ToolProgress{
						ID: id, Name: name,
						Elapsed: time.Since(started[id]).Seconds(),
						Message: "Still executing " + name + "...",
					})
				}
				mu.Unlock()
				for _, b := range beats {
					emit(b)
				}
			case <-abandoned:
				return
			}
		}
	}()

	completed := 0
	poll := time.NewTicker(a.poll)
	defer poll.Stop()

	for completed < len(toolCalls) {
		select {
		case ev := <-queue:
			out <- ev
			if _, ok := ev.(events.ToolResult); ok {
				completed++
			}
		case <-poll.C:
			if a.interrupted.Load() {
				cancel()
				out <- events.Error{Kind: events.ErrInterrupted, Detail: "Agent was interrupted during tool execution"}
				return nil, false
			}
		}
	}

	mu.Lock()
	final := make(map[string]string, len(results))
	for k, v := range results {
		final[k] = v
	}
	mu.Unlock()
	return final, true
}

// drainEvents consumes an abandoned provider stream so its goroutine
// can observe cancellation and exit instead of blocking on a full
// buffer.
func drainEvents(ch <-chan events.Event) {
	for range ch {
	}
}

func (a *Agent) poolSessions() []pool.SessionStat {
	if a.toolCtx == nil || a.toolCtx.Pool == nil {
		return nil
	}
	return a.toolCtx.Pool.List()
}
