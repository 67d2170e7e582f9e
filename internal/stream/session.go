// Package stream provides per-session event emission on top of the event
// bus: every emitted event is stamped with session and agent ids, kept in a
// replay buffer, and fanned out to attached sinks in emission order.
package stream

import (
	"log/slog"
	"sync"

	"github.com/skylattice/orbit/internal/events"
)

// defaultHistoryLimit caps the per-session replay buffer.
const defaultHistoryLimit = 256

// EventSink receives a session's events. Send must return quickly; a sink
// that returns an error is detached and never sees another event.
type EventSink interface {
	Send(event events.Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(events.Event) error

func (f SinkFunc) Send(e events.Event) error { return f(e) }

// Session is the streaming surface for one conversation. Emission is
// serialized, so sinks observe events in the order they were emitted.
type Session struct {
	sessionID string
	agentID   string
	bus       *events.Bus

	mu      sync.Mutex
	sinks   map[int]EventSink
	nextID  int
	history []events.Event
	limit   int
}

// NewSession creates a streaming session. bus may be nil; events then reach
// only the attached sinks and the replay buffer.
func NewSession(sessionID, agentID string, bus *events.Bus) *Session {
	return &Session{
		sessionID: sessionID,
		agentID:   agentID,
		bus:       bus,
		sinks:     make(map[int]EventSink),
		limit:     defaultHistoryLimit,
	}
}

// SessionID returns the session this stream belongs to.
func (s *Session) SessionID() string { return s.sessionID }

// Emit stamps the payload with the session and agent ids and delivers it to
// the bus and every attached sink. A failing sink is removed; emission never
// blocks on or fails because of a subscriber.
func (s *Session) Emit(source events.EventSource, payload events.EventPayload) {
	event := events.NewTypedEventWithSession(source, payload, s.sessionID)
	event.AgentID = s.agentID

	if s.bus != nil {
		s.bus.Publish(event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, event)
	if len(s.history) > s.limit {
		s.history = s.history[len(s.history)-s.limit:]
	}

	for id, sink := range s.sinks {
		if err := sink.Send(event); err != nil {
			delete(s.sinks, id)
			slog.Debug("stream sink removed",
				"session", s.sessionID, "error", err)
		}
	}
}

// Attach registers a sink and returns its detach function. When replay is
// set, the buffered history is sent first, before any live event.
func (s *Session) Attach(sink EventSink, replay bool) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if replay {
		for _, event := range s.history {
			if err := sink.Send(event); err != nil {
				return func() {}
			}
		}
	}

	id := s.nextID
	s.nextID++
	s.sinks[id] = sink

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.sinks, id)
	}
}

// History returns up to limit most recent events. limit <= 0 returns all
// buffered events.
func (s *Session) History(limit int) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]events.Event, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Manager hands out one Session per session id.
type Manager struct {
	bus *events.Bus

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager over the given bus.
func NewManager(bus *events.Bus) *Manager {
	return &Manager{
		bus:      bus,
		sessions: make(map[string]*Session),
	}
}

// Session returns the stream for sessionID, creating it on first use.
func (m *Manager) Session(sessionID, agentID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	s := NewSession(sessionID, agentID, m.bus)
	m.sessions[sessionID] = s
	return s
}

// Remove drops the stream for sessionID; attached sinks stop receiving
// events once the session is recreated.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}
