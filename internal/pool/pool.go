// Package pool holds the shared registry of agent sessions and the
// single orchestrator session, with event fan-out to WebSocket
// subscribers.
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/codedeck/codedeck/internal/agentcli"
	"github.com/codedeck/codedeck/internal/config"
	"github.com/codedeck/codedeck/internal/events"
)

// Subscriber receives serialized event frames. Send must never block;
// implementations buffer and report an error when the connection is
// gone or the buffer is exhausted.
type Subscriber interface {
	Send(data []byte) error
}

// AgentSession is the pool's view of a CLI-backed session.
type AgentSession interface {
	LocalID() string
	BackendID() string
	Status() events.Status
	Cost() float64
	Turns() int
	Resumed() bool
	Healthy() bool
	Start(ctx context.Context) error
	Send(ctx context.Context, text string) (<-chan events.Event, error)
	Command(ctx context.Context, text string) (<-chan events.Event, error)
	Interrupt()
	Stop()
}

// Orchestrator is the pool's view of the orchestrator session.
type Orchestrator interface {
	IsVoice() bool
	Interrupt()
	Stop()
}

// SessionStat is the pool's summary of one live session.
type SessionStat struct {
	SessionID   string        `json:"session_id"`
	BackendID   string        `json:"sdk_session_id"`
	Status      events.Status `json:"status"`
	Cost        float64       `json:"cost"`
	Turns       int           `json:"turns"`
	Subscribers int           `json:"subscribers"`
}

// Pool is the unified registry. Sessions are keyed by a stable
// local_id that never changes across reconnects; the CLI's own
// backend id is a stored attribute, never a key.
type Pool struct {
	mu sync.Mutex

	sessions    map[string]AgentSession
	subscribers map[string]map[Subscriber]struct{}
	locks       map[string]*sync.Mutex

	orchestrator   Orchestrator
	orchestratorID string
	orchSubs       map[Subscriber]struct{}

	watchers map[Subscriber]struct{}

	// newSession is swappable for tests.
	newSession func(cfg config.AgentConfig, localID, resumeID string, fork bool) AgentSession
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		sessions:    make(map[string]AgentSession),
		subscribers: make(map[string]map[Subscriber]struct{}),
		locks:       make(map[string]*sync.Mutex),
		orchSubs:    make(map[Subscriber]struct{}),
		watchers:    make(map[Subscriber]struct{}),
		newSession: func(cfg config.AgentConfig, localID, resumeID string, fork bool) AgentSession {
			return agentcli.New(cfg, localID, resumeID, fork)
		},
	}
}

// ------------------------------------------------------------------
// Agent session lifecycle
// ------------------------------------------------------------------

// FindByBackendID returns the local_id of the pool session with the
// given backend session id, or "".
func (p *Pool) FindByBackendID(backendID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findByBackendIDLocked(backendID)
}

func (p *Pool) findByBackendIDLocked(backendID string) string {
	for lid, sm := range p.sessions {
		if sm.BackendID() == backendID {
			return lid
		}
	}
	return ""
}

// Create starts and registers an agent session, returning the stable
// local_id. When resuming and a healthy session with the same backend
// id already exists, its local_id is returned instead of creating a
// duplicate; a dead duplicate is evicted first.
func (p *Pool) Create(ctx context.Context, cfg config.AgentConfig, localID, resumeID string, fork bool) (string, error) {
	p.mu.Lock()
	if resumeID != "" && !fork {
		if existing := p.findByBackendIDLocked(resumeID); existing != "" {
			sm := p.sessions[existing]
			if sm.Healthy() {
				p.mu.Unlock()
				return existing, nil
			}
			slog.Info("pool: replacing dead session", "session", existing, "status", sm.Status())
			delete(p.sessions, existing)
			delete(p.subscribers, existing)
			delete(p.locks, existing)
		}
	}
	if localID == "" {
		localID = uuid.NewString()
	}
	sm := p.newSession(cfg, localID, resumeID, fork)
	p.mu.Unlock()

	if err := sm.Start(ctx); err != nil {
		return "", err
	}

	p.mu.Lock()
	p.sessions[localID] = sm
	p.subscribers[localID] = make(map[Subscriber]struct{})
	p.locks[localID] = &sync.Mutex{}
	p.mu.Unlock()

	p.NotifyWatchers(map[string]any{
		"type":           "agent_session_opened",
		"session_id":     localID,
		"sdk_session_id": sm.BackendID(),
	})
	return localID, nil
}

// Close removes a session from the pool and notifies subscribers and
// watchers. It deliberately does NOT stop the subprocess: the creator
// owns the process lifetime, and it never deletes the JSONL log.
func (p *Pool) Close(sessionID string) {
	p.mu.Lock()
	_, ok := p.sessions[sessionID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	// Notify while subscribers/watchers are still registered.
	p.BroadcastSession(sessionID, map[string]any{"type": "session_stopped"}, nil)
	p.NotifyWatchers(map[string]any{"type": "agent_session_closed", "session_id": sessionID})

	p.mu.Lock()
	delete(p.subscribers, sessionID)
	delete(p.locks, sessionID)
	p.mu.Unlock()
}

// Interrupt aborts the current response for a session.
func (p *Pool) Interrupt(sessionID string) {
	if sm := p.Get(sessionID); sm != nil {
		sm.Interrupt()
	}
}

// ------------------------------------------------------------------
// Agent session access
// ------------------------------------------------------------------

// Get returns a session by local_id, or nil.
func (p *Pool) Get(sessionID string) AgentSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[sessionID]
}

// Has reports whether a session exists.
func (p *Pool) Has(sessionID string) bool {
	return p.Get(sessionID) != nil
}

// List returns stats for every live session.
func (p *Pool) List() []SessionStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := make([]SessionStat, 0, len(p.sessions))
	for lid, sm := range p.sessions {
		stats = append(stats, SessionStat{
			SessionID:   lid,
			BackendID:   sm.BackendID(),
			Status:      sm.Status(),
			Cost:        sm.Cost(),
			Turns:       sm.Turns(),
			Subscribers: len(p.subscribers[lid]),
		})
	}
	return stats
}

// ------------------------------------------------------------------
// Agent session subscribers
// ------------------------------------------------------------------

// Subscribe registers a subscriber for a session's events.
func (p *Pool) Subscribe(sessionID string, sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subs, ok := p.subscribers[sessionID]; ok {
		subs[sub] = struct{}{}
	}
}

// Unsubscribe removes a subscriber.
func (p *Pool) Unsubscribe(sessionID string, sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subs, ok := p.subscribers[sessionID]; ok {
		delete(subs, sub)
	}
}

// SubscriberCount returns the live subscriber count for a session.
func (p *Pool) SubscriberCount(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers[sessionID])
}

// ------------------------------------------------------------------
// Sending (agent sessions, with per-session lock + broadcast)
// ------------------------------------------------------------------

// Send drives one turn through a session under its per-session lock,
// broadcasting every event to all subscribers. The text is echoed as a
// user_message frame to every subscriber except source. The returned
// channel relays the raw events to the caller and is closed when the
// turn ends.
func (p *Pool) Send(ctx context.Context, sessionID, text string, source Subscriber) (<-chan events.Event, error) {
	p.mu.Lock()
	sm, ok := p.sessions[sessionID]
	lock := p.locks[sessionID]
	p.mu.Unlock()
	if !ok || lock == nil {
		return nil, fmt.Errorf("no session with ID %s", sessionID)
	}

	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		lock.Lock()
		defer lock.Unlock()

		p.BroadcastSession(sessionID, map[string]any{"type": "user_message", "text": text}, source)

		turn, err := sm.Send(ctx, text)
		if err != nil {
			ev := toErrorEvent(err)
			p.BroadcastSession(sessionID, events.Serialize(ev), nil)
			out <- ev
			return
		}
		for ev := range turn {
			p.BroadcastSession(sessionID, events.Serialize(ev), nil)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ------------------------------------------------------------------
// Orchestrator lifecycle
// ------------------------------------------------------------------

// HasOrchestrator reports whether an orchestrator session is active.
func (p *Pool) HasOrchestrator() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orchestrator != nil
}

// OrchestratorID returns the active orchestrator's local_id, or "".
func (p *Pool) OrchestratorID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orchestratorID
}

// GetOrchestrator returns the active orchestrator session, or nil.
func (p *Pool) GetOrchestrator() Orchestrator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orchestrator
}

// SetOrchestrator registers a freshly-started orchestrator session,
// resetting the subscriber set.
func (p *Pool) SetOrchestrator(sessionID string, o Orchestrator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orchestrator = o
	p.orchestratorID = sessionID
	p.orchSubs = make(map[Subscriber]struct{})
}

// SubscribeOrchestrator adds a subscriber to the active orchestrator.
// Returns false when no session is active or the id does not match.
func (p *Pool) SubscribeOrchestrator(sessionID string, sub Subscriber) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.orchestrator == nil || p.orchestratorID != sessionID {
		return false
	}
	p.orchSubs[sub] = struct{}{}
	return true
}

// UnsubscribeOrchestrator removes an orchestrator subscriber.
func (p *Pool) UnsubscribeOrchestrator(sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orchSubs, sub)
}

// BroadcastOrchestrator fans a payload out to orchestrator
// subscribers, evicting dead connections.
func (p *Pool) BroadcastOrchestrator(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("pool: marshal orchestrator payload", "err", err)
		return
	}
	p.mu.Lock()
	subs := make([]Subscriber, 0, len(p.orchSubs))
	for sub := range p.orchSubs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	var dead []Subscriber
	for _, sub := range subs {
		if err := sub.Send(data); err != nil {
			dead = append(dead, sub)
		}
	}
	if len(dead) > 0 {
		p.mu.Lock()
		for _, sub := range dead {
			delete(p.orchSubs, sub)
		}
		p.mu.Unlock()
	}
}

// StopOrchestrator stops and clears the active orchestrator session.
func (p *Pool) StopOrchestrator() {
	p.mu.Lock()
	o := p.orchestrator
	p.orchestrator = nil
	p.orchestratorID = ""
	p.orchSubs = make(map[Subscriber]struct{})
	p.mu.Unlock()
	if o != nil {
		o.Stop()
	}
}

// ------------------------------------------------------------------
// Watchers
// ------------------------------------------------------------------

// Watch registers a subscriber for agent_session_opened/closed
// notifications.
func (p *Pool) Watch(sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchers[sub] = struct{}{}
}

// Unwatch removes a watcher.
func (p *Pool) Unwatch(sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watchers, sub)
}

// NotifyWatchers fans a payload out to all watchers, evicting dead
// connections.
func (p *Pool) NotifyWatchers(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	p.mu.Lock()
	watchers := make([]Subscriber, 0, len(p.watchers))
	for sub := range p.watchers {
		watchers = append(watchers, sub)
	}
	p.mu.Unlock()

	var dead []Subscriber
	for _, sub := range watchers {
		if err := sub.Send(data); err != nil {
			dead = append(dead, sub)
		}
	}
	if len(dead) > 0 {
		p.mu.Lock()
		for _, sub := range dead {
			delete(p.watchers, sub)
		}
		p.mu.Unlock()
	}
}

// ------------------------------------------------------------------
// Internal helpers
// ------------------------------------------------------------------

// BroadcastSession fans a payload out to a session's subscribers,
// skipping exclude and evicting dead connections.
func (p *Pool) BroadcastSession(sessionID string, payload map[string]any, exclude Subscriber) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("pool: marshal session payload", "session", sessionID, "err", err)
		return
	}
	p.mu.Lock()
	set, ok := p.subscribers[sessionID]
	if !ok {
		p.mu.Unlock()
		return
	}
	subs := make([]Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	var dead []Subscriber
	for _, sub := range subs {
		if sub == exclude {
			continue
		}
		if err := sub.Send(data); err != nil {
			dead = append(dead, sub)
		}
	}
	if len(dead) > 0 {
		p.mu.Lock()
		if set, ok := p.subscribers[sessionID]; ok {
			for _, sub := range dead {
				delete(set, sub)
			}
		}
		p.mu.Unlock()
	}
}

func toErrorEvent(err error) events.Error {
	if ev, ok := err.(events.Error); ok {
		return ev
	}
	return events.Error{Kind: events.ErrSendFailed, Detail: err.Error()}
}
