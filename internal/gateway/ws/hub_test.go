package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/skylattice/orbit/internal/events"
	"github.com/skylattice/orbit/internal/sessions"
)

// addBareClient registers a client without a real connection so that
// routeEvent delivery can be observed on its send channel.
func addBareClient(h *Hub) *Client {
	c := &Client{
		send:  make(chan []byte, 16),
		hub:   h,
		rooms: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func recvFrame(t *testing.T, c *Client) (Frame, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		f, err := UnmarshalFrame(data)
		if err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return f, true
	case <-time.After(500 * time.Millisecond):
		return Frame{}, false
	}
}

func TestRouteEvent_SessionRoomFiltering(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	store := sessions.NewFileStore(t.TempDir())

	h := NewHub(bus, store, nil)
	defer h.Close()

	subscriber := addBareClient(h)
	subscriber.join("sess_a")
	bystander := addBareClient(h)

	bus.Publish(events.NewTypedEventWithSession(events.SourceAgent,
		events.MessagePayload{Content: "hello"}, "sess_a"))

	f, ok := recvFrame(t, subscriber)
	if !ok {
		t.Fatal("subscribed client received nothing")
	}
	if f.Type != FrameTypeEvent {
		t.Fatalf("expected event frame, got %q", f.Type)
	}
	if f.SessionID != "sess_a" {
		t.Fatalf("expected session %q, got %q", "sess_a", f.SessionID)
	}

	select {
	case data := <-bystander.send:
		t.Fatalf("unsubscribed client received frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRouteEvent_GlobalEventsReachEveryone(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	store := sessions.NewFileStore(t.TempDir())

	h := NewHub(bus, store, nil)
	defer h.Close()

	a := addBareClient(h)
	b := addBareClient(h)
	b.join("sess_other")

	bus.Publish(events.NewEvent(events.EventUserMessage, events.SourceWS, map[string]any{"content": "hi"}))

	for _, c := range []*Client{a, b} {
		f, ok := recvFrame(t, c)
		if !ok {
			t.Fatal("client missed global event")
		}
		if f.Event != string(events.EventUserMessage) {
			t.Fatalf("expected event %q, got %q", events.EventUserMessage, f.Event)
		}
	}
}

func TestHandleRequest_SubscribeJoinsRoom(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	store := sessions.NewFileStore(t.TempDir())

	h := NewHub(bus, store, nil)
	defer h.Close()

	c := addBareClient(h)

	params, _ := json.Marshal(map[string]string{"session_id": "sess_x"})
	c.handleRequest(context.Background(), Frame{
		Type:   FrameTypeRequest,
		ID:     "req-1",
		Method: string(MethodSubscribe),
		Params: params,
	})

	f, ok := recvFrame(t, c)
	if !ok {
		t.Fatal("no response frame")
	}
	if f.OK == nil || !*f.OK {
		t.Fatalf("expected ok response, got error %q", f.Error)
	}
	if !c.wants(events.Event{SessionID: "sess_x"}) {
		t.Fatal("client did not join the session room")
	}
}

func TestHandleRequest_SendMessageWithoutHandlerFails(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	store := sessions.NewFileStore(t.TempDir())

	h := NewHub(bus, store, nil)
	defer h.Close()

	c := addBareClient(h)

	params, _ := json.Marshal(map[string]string{"content": "hello"})
	c.handleRequest(context.Background(), Frame{
		Type:   FrameTypeRequest,
		ID:     "req-2",
		Method: string(MethodSendMessage),
		Params: params,
	})

	f, ok := recvFrame(t, c)
	if !ok {
		t.Fatal("no response frame")
	}
	if f.OK == nil || *f.OK {
		t.Fatal("expected error response")
	}
	if f.Error != "agent not available" {
		t.Fatalf("unexpected error %q", f.Error)
	}
}

type recordingHandler struct {
	mu         sync.Mutex
	sessionID  string
	content    string
	sessionCtx map[string]string
	done       chan struct{}
}

func (r *recordingHandler) HandleMessage(_ context.Context, sessionID, content string, sessionCtx map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = sessionID
	r.content = content
	r.sessionCtx = sessionCtx
	close(r.done)
	return "the forecast is sunny", nil
}

func (r *recordingHandler) Reset(sessionID string) {}

// blockingHandler holds a request open until its context is cancelled.
type blockingHandler struct {
	cancelled chan struct{}
}

func (b *blockingHandler) HandleMessage(ctx context.Context, _, _ string, _ map[string]string) (string, error) {
	<-ctx.Done()
	close(b.cancelled)
	return "", ctx.Err()
}

func (b *blockingHandler) Reset(string) {}

func TestClose_CancelsInFlightDispatch(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	store := sessions.NewFileStore(t.TempDir())

	handler := &blockingHandler{cancelled: make(chan struct{})}
	h := NewHub(bus, store, handler)

	sess, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	go h.dispatch(sess, "long running request", nil)

	// Give the dispatch time to reach the handler before shutting down.
	time.Sleep(20 * time.Millisecond)
	h.Close()

	select {
	case <-handler.cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight request did not observe hub shutdown")
	}
}

func TestHandleRequest_SendMessageDispatchesToHandler(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	store := sessions.NewFileStore(t.TempDir())

	handler := &recordingHandler{done: make(chan struct{})}
	h := NewHub(bus, store, handler)
	defer h.Close()

	c := addBareClient(h)

	params, _ := json.Marshal(map[string]any{
		"content": "weather in Lyon?",
		"context": map[string]string{"timezone": "Europe/Paris"},
	})
	c.handleRequest(context.Background(), Frame{
		Type:   FrameTypeRequest,
		ID:     "req-3",
		Method: string(MethodSendMessage),
		Params: params,
	})

	f, ok := recvFrame(t, c)
	if !ok {
		t.Fatal("no response frame")
	}
	if f.OK == nil || !*f.OK {
		t.Fatalf("expected accepted response, got error %q", f.Error)
	}
	var resp map[string]string
	if err := json.Unmarshal(f.Payload, &resp); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Fatalf("expected status accepted, got %q", resp["status"])
	}
	if resp["session_id"] == "" {
		t.Fatal("expected a session id in the response")
	}

	select {
	case <-handler.done:
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.content != "weather in Lyon?" {
		t.Fatalf("handler got content %q", handler.content)
	}
	if handler.sessionID != resp["session_id"] {
		t.Fatalf("handler session %q does not match response %q", handler.sessionID, resp["session_id"])
	}
	if handler.sessionCtx["timezone"] != "Europe/Paris" {
		t.Fatalf("request context not forwarded: %v", handler.sessionCtx)
	}

	// Both sides of the exchange end up in the transcript.
	deadline := time.Now().Add(time.Second)
	for {
		msgs, err := store.LoadMessages(resp["session_id"])
		if err == nil && len(msgs) == 2 {
			if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
				t.Fatalf("unexpected transcript roles: %q, %q", msgs[0].Role, msgs[1].Role)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transcript not persisted, got %d messages (err=%v)", len(msgs), err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
