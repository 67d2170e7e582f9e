package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/skylattice/orbit/internal/events"
	"github.com/skylattice/orbit/internal/sessions"
)

// AgentHandler runs the request lifecycle for one user message. The hub
// calls it from a goroutine per message; replies travel back as bus events.
type AgentHandler interface {
	HandleMessage(ctx context.Context, sessionID, content string, sessionCtx map[string]string) (string, error)
	Reset(sessionID string)
}

// Client represents a connected WebSocket client and the session rooms it
// joined.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu    sync.Mutex
	rooms map[string]bool
}

func (c *Client) join(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[sessionID] = true
}

// wants reports whether this client should receive the event. Events without
// a session id are global and go to everyone.
func (c *Client) wants(e events.Event) bool {
	if e.SessionID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[e.SessionID]
}

// Hub manages WebSocket clients and bridges them to the event bus. Each
// client only receives events for sessions it subscribed to.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	store       sessions.Store
	handler     AgentHandler
	unsubscribe func()

	// ctx parents every dispatched request; Close cancels it so in-flight
	// executor steps abort on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a WebSocket hub. handler may be nil; send_message then
// fails with an error response.
func NewHub(bus *events.Bus, store sessions.Store, handler AgentHandler) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
		store:   store,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}

	h.unsubscribe = bus.Subscribe(h.routeEvent)
	return h
}

// routeEvent fans a bus event out to the clients subscribed to its session.
func (h *Hub) routeEvent(e events.Event) {
	frame, err := NewEventFrame(string(e.Type), e.SessionID, e)
	if err != nil {
		slog.Error("marshal event frame", "error", err)
		return
	}
	data, err := MarshalFrame(frame)
	if err != nil {
		slog.Error("marshal frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// register adds a client to the hub.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

// unregister removes a client from the hub.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:  conn,
		send:  make(chan []byte, 256),
		hub:   h,
		rooms: make(map[string]bool),
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		c.handleFrame(ctx, frame)
	}
}

// handleFrame processes an incoming WS frame.
func (c *Client) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameTypeRequest:
		c.handleRequest(ctx, frame)
	default:
		slog.Debug("ws unknown frame type", "type", frame.Type)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch Method(frame.Method) {
	case MethodSendMessage:
		var params struct {
			SessionID string            `json:"session_id"`
			Content   string            `json:"content"`
			Context   map[string]string `json:"context"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.Content == "" {
			c.sendError(frame.ID, "invalid params")
			return
		}
		if c.hub.handler == nil {
			c.sendError(frame.ID, "agent not available")
			return
		}

		sess, err := c.hub.session(params.SessionID)
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.join(sess.ID)

		go c.hub.dispatch(sess, params.Content, params.Context)
		c.sendOK(frame.ID, map[string]string{"session_id": sess.ID, "status": "accepted"})

	case MethodOpenSession:
		sess, err := c.hub.store.Create()
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.join(sess.ID)
		c.sendOK(frame.ID, sess)

	case MethodResetSession:
		var params struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.SessionID == "" {
			c.sendError(frame.ID, "invalid params")
			return
		}
		if c.hub.handler != nil {
			c.hub.handler.Reset(params.SessionID)
		}
		c.sendOK(frame.ID, map[string]string{"session_id": params.SessionID, "status": "reset"})

	case MethodSubscribe:
		var params struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.SessionID == "" {
			c.sendError(frame.ID, "invalid params")
			return
		}
		c.join(params.SessionID)
		c.sendOK(frame.ID, map[string]string{"session_id": params.SessionID, "status": "subscribed"})

	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
	}
}

// session resolves or creates the target session for a message.
func (h *Hub) session(id string) (*sessions.Session, error) {
	if id == "" {
		return h.store.Create()
	}
	return h.store.Ensure(id)
}

// dispatch runs one message through the agent and persists the transcript.
// Per-user context from the request overrides the stored session context.
func (h *Hub) dispatch(sess *sessions.Session, content string, reqCtx map[string]string) {
	sessionCtx := make(map[string]string, len(sess.Context)+len(reqCtx))
	for k, v := range sess.Context {
		sessionCtx[k] = v
	}
	for k, v := range reqCtx {
		sessionCtx[k] = v
	}

	h.bus.Publish(events.NewTypedEventWithSession(events.SourceWS,
		events.UserMessagePayload{Content: content}, sess.ID))
	if err := h.store.AppendMessage(sess.ID, sessions.Message{Role: "user", Content: content}); err != nil {
		slog.Warn("persist user message", "session", sess.ID, "error", err)
	}

	reply, err := h.handler.HandleMessage(h.ctx, sess.ID, content, sessionCtx)
	if err != nil {
		// The agent already emitted the error event.
		slog.Warn("message handling failed", "session", sess.ID, "error", err)
		return
	}
	if err := h.store.AppendMessage(sess.ID, sessions.Message{Role: "assistant", Content: reply}); err != nil {
		slog.Warn("persist assistant message", "session", sess.ID, "error", err)
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections. In-flight message
// dispatches see their context cancelled.
func (h *Hub) Close() {
	h.cancel()
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		delete(h.clients, c)
	}
}
