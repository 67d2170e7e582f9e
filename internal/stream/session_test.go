package stream

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/skylattice/orbit/internal/events"
)

func TestEmit_StampsSessionAndAgent(t *testing.T) {
	s := NewSession("sess-1", "orbit", nil)

	var got events.Event
	s.Attach(SinkFunc(func(e events.Event) error {
		got = e
		return nil
	}), false)

	s.Emit(events.SourceAgent, events.ThoughtPayload{Content: "hm"})

	if got.SessionID != "sess-1" || got.AgentID != "orbit" {
		t.Errorf("event ids = %q/%q", got.SessionID, got.AgentID)
	}
	if got.Type != events.EventThought {
		t.Errorf("type = %q", got.Type)
	}
}

func TestEmit_PreservesOrderPerSink(t *testing.T) {
	s := NewSession("s", "a", nil)

	var order []string
	s.Attach(SinkFunc(func(e events.Event) error {
		p, _ := events.ExtractPayload[events.ThoughtPayload](e)
		order = append(order, p.Content)
		return nil
	}), false)

	for i := 0; i < 10; i++ {
		s.Emit(events.SourceAgent, events.ThoughtPayload{Content: fmt.Sprintf("t%d", i)})
	}

	for i, content := range order {
		if content != fmt.Sprintf("t%d", i) {
			t.Fatalf("order broken at %d: %v", i, order)
		}
	}
}

func TestEmit_FailingSinkIsRemoved(t *testing.T) {
	s := NewSession("s", "a", nil)

	failCalls := 0
	s.Attach(SinkFunc(func(events.Event) error {
		failCalls++
		return errors.New("broken pipe")
	}), false)

	okCalls := 0
	s.Attach(SinkFunc(func(events.Event) error {
		okCalls++
		return nil
	}), false)

	s.Emit(events.SourceAgent, events.ThoughtPayload{Content: "one"})
	s.Emit(events.SourceAgent, events.ThoughtPayload{Content: "two"})

	if failCalls != 1 {
		t.Errorf("failing sink called %d times, want 1", failCalls)
	}
	if okCalls != 2 {
		t.Errorf("healthy sink called %d times, want 2", okCalls)
	}
}

func TestAttach_ReplaysHistory(t *testing.T) {
	s := NewSession("s", "a", nil)
	s.Emit(events.SourceAgent, events.ThoughtPayload{Content: "past"})

	var seen []events.Event
	s.Attach(SinkFunc(func(e events.Event) error {
		seen = append(seen, e)
		return nil
	}), true)
	s.Emit(events.SourceAgent, events.ThoughtPayload{Content: "live"})

	if len(seen) != 2 {
		t.Fatalf("events = %d, want replay + live", len(seen))
	}
	p, _ := events.ExtractPayload[events.ThoughtPayload](seen[0])
	if p.Content != "past" {
		t.Errorf("first event should be the replayed one: %q", p.Content)
	}
}

func TestEmit_PublishesToBus(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(16, events.EventThought)
	defer unsub()

	s := NewSession("s", "a", bus)
	s.Emit(events.SourceAgent, events.ThoughtPayload{Content: "hi"})

	ev := <-ch
	if ev.SessionID != "s" {
		t.Errorf("bus event session = %q", ev.SessionID)
	}
}

func TestHistory_CapsAndLimits(t *testing.T) {
	s := NewSession("s", "a", nil)
	s.limit = 4

	for i := 0; i < 10; i++ {
		s.Emit(events.SourceAgent, events.ThoughtPayload{Content: fmt.Sprintf("t%d", i)})
	}

	all := s.History(0)
	if len(all) != 4 {
		t.Fatalf("history = %d, want cap of 4", len(all))
	}
	last := s.History(1)
	p, _ := events.ExtractPayload[events.ThoughtPayload](last[0])
	if p.Content != "t9" {
		t.Errorf("History(1) = %q, want the newest event", p.Content)
	}
}

func TestManager_ReusesSessions(t *testing.T) {
	m := NewManager(nil)

	a := m.Session("one", "orbit")
	b := m.Session("one", "orbit")
	if a != b {
		t.Error("same id should return the same stream")
	}
	if m.Session("two", "orbit") == a {
		t.Error("different ids should not share a stream")
	}

	m.Remove("one")
	if m.Session("one", "orbit") == a {
		t.Error("removed session should be recreated")
	}
}

func TestEmit_ConcurrentEmittersDoNotRace(t *testing.T) {
	s := NewSession("s", "a", nil)

	count := 0
	s.Attach(SinkFunc(func(events.Event) error {
		count++
		return nil
	}), false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.Emit(events.SourceAgent, events.ThoughtPayload{Content: "x"})
			}
		}()
	}
	wg.Wait()

	if count != 200 {
		t.Errorf("sink saw %d events, want 200", count)
	}
}
