// Package agentcli drives coding-agent CLI sessions as long-running
// subprocesses speaking NDJSON over stdio.
package agentcli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codedeck/codedeck/internal/config"
	"github.com/codedeck/codedeck/internal/events"
)

// Session manages one agent CLI conversation.
//
// The subprocess is started lazily on Start and kept alive across
// turns. A single readLoop goroutine owns stdout, translates NDJSON
// events, and routes them to the channel of the in-flight turn. The
// pool serializes Send per session, so at most one turn is active.
type Session struct {
	mu      sync.Mutex
	stdinMu sync.Mutex // serializes stdin writes

	cfg      config.AgentConfig
	localID  string
	resumeID string
	fork     bool

	backendID string // the CLI's own session id, captured from events
	status    events.Status
	cost      float64
	turns     int

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	cancel     context.CancelFunc
	started    bool
	processGen int

	turn chan events.Event // in-flight turn stream, nil when idle

	initCh chan struct{} // closed once the CLI reports system init
	inited bool
}

// New creates a session. resumeID resumes an existing CLI
// conversation; fork resumes it into a new conversation.
func New(cfg config.AgentConfig, localID, resumeID string, fork bool) *Session {
	if localID == "" {
		localID = uuid.NewString()
	}
	return &Session{
		cfg:       cfg,
		localID:   localID,
		resumeID:  resumeID,
		fork:      fork,
		backendID: resumeID,
		status:    events.StatusDisconnected,
		initCh:    make(chan struct{}),
	}
}

// LocalID returns the stable pool key for this session.
func (s *Session) LocalID() string { return s.localID }

// BackendID returns the CLI's session id, or "" before it is known.
func (s *Session) BackendID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendID
}

// Resumed reports whether this session was created to resume an
// existing CLI conversation.
func (s *Session) Resumed() bool { return s.resumeID != "" }

// Status returns the current session status.
func (s *Session) Status() events.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Cost returns the accumulated cost in USD across turns.
func (s *Session) Cost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cost
}

// Turns returns the accumulated turn count.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// Healthy reports whether the subprocess is running and usable.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && s.status != events.StatusDisconnected
}

// Start launches the subprocess and waits for it to report ready.
// Returns events.Error{Kind: start_timeout} if no status is observed
// within the configured start timeout.
func (s *Session) Start(ctx context.Context) error {
	if err := s.ensureProcess(ctx); err != nil {
		return events.Error{Kind: events.ErrStartFailed, Detail: err.Error()}
	}

	timeout := time.Duration(s.cfg.StartTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-s.initCh:
	case <-time.After(timeout):
		s.Stop()
		return events.Error{Kind: events.ErrStartTimeout, Detail: "agent did not report ready"}
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	}

	s.mu.Lock()
	s.status = events.StatusIdle
	s.mu.Unlock()
	return nil
}

func (s *Session) ensureProcess(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	resumeSID := s.backendID
	gen := s.processGen + 1
	s.processGen = gen
	s.status = events.StatusConnecting
	s.mu.Unlock()

	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
		"--include-partial-messages",
	}
	if resumeSID != "" {
		args = append(args, "--resume", resumeSID)
		if s.fork {
			args = append(args, "--fork-session")
		}
	}

	bin := s.cfg.Bin
	if bin == "" {
		bin = "claude"
	}

	// Detach from the caller's context: the subprocess lifetime is owned
	// by Stop, not by whichever request started it.
	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, bin, args...)
	cmd.Dir = s.cfg.ProjectDir
	cmd.Stderr = os.Stderr

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", bin, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdinPipe
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	go s.readLoop(stdoutPipe, cmd, gen)
	return nil
}

// Send writes a user message and returns the stream of events for this
// turn. The channel is closed when the turn completes or the process
// dies.
func (s *Session) Send(ctx context.Context, text string) (<-chan events.Event, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil, events.Error{Kind: events.ErrNotStarted, Detail: "session is not running"}
	}
	if s.turn != nil {
		s.mu.Unlock()
		return nil, events.Error{Kind: events.ErrSendFailed, Detail: "a turn is already in flight"}
	}
	turn := make(chan events.Event, 256)
	s.turn = turn
	s.status = events.StatusStreaming
	sessionID := s.backendID
	s.mu.Unlock()

	msg := stdinUserMessage{
		Type:      "user",
		SessionID: sessionID,
		Message: stdinMessageInner{
			Role:    "user",
			Content: []ContentBlock{{Type: "text", Text: text}},
		},
	}
	if err := s.writeStdin(msg); err != nil {
		s.mu.Lock()
		s.turn = nil
		s.status = events.StatusIdle
		s.mu.Unlock()
		return nil, events.Error{Kind: events.ErrSendFailed, Detail: err.Error()}
	}
	return turn, nil
}

// Command sends a slash command (e.g. "/compact") as a normal turn.
func (s *Session) Command(ctx context.Context, slash string) (<-chan events.Event, error) {
	return s.Send(ctx, slash)
}

// Interrupt asks the CLI to abort the current response.
func (s *Session) Interrupt() {
	req := stdinControlRequest{
		Type:      "control_request",
		RequestID: "req_" + uuid.NewString(),
		Request:   stdinControlPayload{Subtype: "interrupt"},
	}
	if err := s.writeStdin(req); err != nil {
		slog.Warn("agentcli: interrupt write failed", "session", s.localID, "err", err)
	}
	s.mu.Lock()
	s.status = events.StatusInterrupted
	s.mu.Unlock()
}

// Stop shuts the subprocess down by closing its stdin; the CLI exits
// when stdin closes and the readLoop reaps it. Only the creator calls
// Stop — removing a session from the pool must never reach here.
func (s *Session) Stop() {
	s.mu.Lock()
	stdin := s.stdin
	s.stdin = nil
	s.mu.Unlock()
	if stdin != nil {
		stdin.Close()
	}
}

func (s *Session) writeStdin(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal stdin message: %w", err)
	}
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()

	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("stdin closed")
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// readLoop owns stdout for one subprocess generation: it parses each
// NDJSON line, updates session state, and routes translated events to
// the in-flight turn.
func (s *Session) readLoop(stdout io.Reader, cmd *exec.Cmd, gen int) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event StreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			slog.Warn("agentcli: unparsable NDJSON line", "session", s.localID, "err", err)
			continue
		}
		s.processEvent(&event)
	}

	// The creator reaps the process; the pool never reaches this path.
	err := cmd.Wait()

	s.mu.Lock()
	if s.processGen != gen {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.status = events.StatusDisconnected
	turn := s.turn
	s.turn = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if turn != nil {
		select {
		case turn <- events.Error{Kind: events.ErrSendFailed, Detail: "agent process exited"}:
		default:
			slog.Warn("agentcli: turn buffer full, dropping exit error", "session", s.localID)
		}
		close(turn)
	}
	if err != nil {
		slog.Info("agentcli: process exited", "session", s.localID, "err", err)
	}
}

// processEvent translates one CLI event and forwards the results to
// the active turn channel.
func (s *Session) processEvent(event *StreamEvent) {
	// Capture the CLI's session id as soon as it appears.
	if event.SessionID != "" && !event.IsError {
		s.mu.Lock()
		s.backendID = event.SessionID
		s.mu.Unlock()
	}

	switch event.Type {
	case "system":
		switch event.Subtype {
		case "init":
			s.mu.Lock()
			if !s.inited {
				s.inited = true
				close(s.initCh)
			}
			s.mu.Unlock()
		case "compact", "compact_boundary":
			trigger := "manual"
			if event.CompactMetadata != nil && event.CompactMetadata.Trigger != "" {
				trigger = event.CompactMetadata.Trigger
			}
			s.emit(events.CompactComplete{Trigger: trigger})
		}

	case "stream_event":
		s.processStreamEvent(event.Event)

	case "assistant":
		var msg parsedMessage
		if err := json.Unmarshal(event.Message, &msg); err != nil {
			return
		}
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				s.emit(events.TextComplete{Text: block.Text})
			case "thinking":
				s.emit(events.ThinkingComplete{Text: block.Thinking})
			case "tool_use":
				s.setStatus(events.StatusToolUse)
				s.emit(events.ToolUse{ID: block.ID, Name: block.Name, Input: blockInput(block.Input)})
			}
		}

	case "user":
		var msg parsedMessage
		if err := json.Unmarshal(event.Message, &msg); err != nil {
			return
		}
		for _, block := range msg.Content {
			if block.Type == "tool_result" {
				s.emit(events.ToolResult{
					ID:      block.ToolUseID,
					Output:  blockText(block.Content),
					IsError: block.IsError,
				})
			}
		}

	case "result":
		s.mu.Lock()
		s.turns += event.NumTurns
		hasCost := event.Cost != 0
		if hasCost {
			s.cost += event.Cost
		}
		var usage events.Usage
		if event.Usage != nil {
			usage = events.Usage{
				InputTokens:  event.Usage.InputTokens,
				OutputTokens: event.Usage.OutputTokens,
			}
		}
		turn := s.turn
		s.turn = nil
		s.status = events.StatusIdle
		sessionID := s.backendID
		s.mu.Unlock()

		if turn != nil {
			// Never block the read loop: an abandoned turn (reader timed
			// out) may have a full buffer.
			select {
			case turn <- events.TurnComplete{
				Cost:      event.Cost,
				HasCost:   hasCost,
				Usage:     usage,
				NumTurns:  event.NumTurns,
				SessionID: sessionID,
				IsError:   event.IsError,
				Result:    event.Result,
			}:
			default:
				slog.Warn("agentcli: turn buffer full, dropping turn completion", "session", s.localID)
			}
			close(turn)
		}
	}
}

func (s *Session) processStreamEvent(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var inner struct {
		Type  string `json:"type"`
		Delta struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			Thinking string `json:"thinking"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(raw, &inner); err != nil {
		return
	}
	if inner.Type != "content_block_delta" {
		return
	}
	switch inner.Delta.Type {
	case "text_delta":
		s.setStatus(events.StatusStreaming)
		s.emit(events.TextDelta{Text: inner.Delta.Text})
	case "thinking_delta":
		s.setStatus(events.StatusThinking)
		s.emit(events.ThinkingDelta{Text: inner.Delta.Thinking})
	}
}

func (s *Session) setStatus(st events.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// emit forwards an event to the in-flight turn, dropping it when no
// turn is active or the buffer is full (the log stream must never
// block the read loop).
func (s *Session) emit(ev events.Event) {
	s.mu.Lock()
	turn := s.turn
	s.mu.Unlock()
	if turn == nil {
		return
	}
	select {
	case turn <- ev:
	default:
		slog.Warn("agentcli: turn buffer full, dropping event", "session", s.localID)
	}
}
