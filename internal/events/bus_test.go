package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	received := make(chan Event, 1)
	unsub := bus.Subscribe(func(e Event) {
		received <- e
	}, EventReasoning)
	defer unsub()

	bus.Publish(NewTypedEvent(SourceAgent, ReasoningPayload{Content: "Analyzing your request..."}))

	select {
	case e := <-received:
		if e.Type != EventReasoning {
			t.Errorf("expected reasoning event, got %s", e.Type)
		}
		p, ok := GetReasoningPayload(e)
		if !ok || p.Content != "Analyzing your request..." {
			t.Errorf("unexpected payload: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var got []EventType
	done := make(chan struct{}, 8)

	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
		done <- struct{}{}
	}, EventPlan)
	defer unsub()

	bus.Publish(NewTypedEvent(SourceAgent, ReasoningPayload{Content: "x"}))
	bus.Publish(NewTypedEvent(SourcePlanner, PlanPayload{Steps: []string{"a"}}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != EventPlan {
		t.Errorf("expected only plan event, got %v", got)
	}
}

func TestBus_OrderingPreserved(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	const n = 20
	received := make(chan Event, n)
	unsub := bus.Subscribe(func(e Event) { received <- e })
	defer unsub()

	for i := 0; i < n; i++ {
		bus.Publish(NewTypedEvent(SourceAgent, ThoughtPayload{Content: string(rune('a' + i))}))
	}

	var prev string
	for i := 0; i < n; i++ {
		select {
		case e := <-received:
			if prev != "" && e.ID <= prev {
				t.Fatalf("events out of order: %s after %s", e.ID, prev)
			}
			prev = e.ID
		case <-time.After(time.Second):
			t.Fatalf("timed out at event %d", i)
		}
	}
}

func TestBus_History(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(NewTypedEvent(SourceAgent, ThoughtPayload{Content: "t"}))
	}

	// Dispatch is asynchronous; wait for the ring buffer to fill.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(bus.History(10)) == 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	history := bus.History(10)
	if len(history) != 5 {
		t.Errorf("expected 5 events in history, got %d", len(history))
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(8)
	bus.Close()

	// Must not panic.
	bus.Publish(NewTypedEvent(SourceAgent, ThoughtPayload{Content: "late"}))
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Event{ID: string(rune('a' + i))})
	}

	got := rb.Get(3)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// Oldest two (a, b) were overwritten.
	if got[0].ID != "c" || got[2].ID != "e" {
		t.Errorf("unexpected window: %v, %v, %v", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestExtractPayload_RoundTrip(t *testing.T) {
	e := NewTypedEventWithSession(SourceExecutor, ToolExecutionPayload{
		Status: ToolStatusCompleted,
		Name:   "search_email",
	}, "sess-1")

	if e.SessionID != "sess-1" {
		t.Errorf("session id lost: %q", e.SessionID)
	}

	p, ok := GetToolExecutionPayload(e)
	if !ok {
		t.Fatal("extract failed")
	}
	if p.Status != ToolStatusCompleted || p.Name != "search_email" {
		t.Errorf("unexpected payload: %+v", p)
	}
}
