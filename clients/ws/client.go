// Package ws provides a WebSocket client for the Orbit gateway.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/skylattice/orbit/internal/gateway/ws"
)

// Client is a WebSocket client for the Orbit gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

func (c *Client) request(method wsprotocol.Method, params any) error {
	seq := atomic.AddUint64(&c.reqSeq, 1)

	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}

	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     fmt.Sprintf("req-%d", seq),
		Method: string(method),
		Params: raw,
	}

	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return err
	}

	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// SendMessage sends a user message to the gateway. sessionID may be empty;
// the gateway then creates a session and reports its id in the response.
func (c *Client) SendMessage(sessionID, content string, sessionCtx map[string]string) error {
	return c.request(wsprotocol.MethodSendMessage, map[string]any{
		"session_id": sessionID,
		"content":    content,
		"context":    sessionCtx,
	})
}

// OpenSession asks the gateway to create a fresh session.
func (c *Client) OpenSession() error {
	return c.request(wsprotocol.MethodOpenSession, map[string]any{})
}

// ResetSession clears the agent state for a session.
func (c *Client) ResetSession(sessionID string) error {
	return c.request(wsprotocol.MethodResetSession, map[string]string{"session_id": sessionID})
}

// Subscribe joins a session room so its events are streamed to this client.
func (c *Client) Subscribe(sessionID string) error {
	return c.request(wsprotocol.MethodSubscribe, map[string]string{"session_id": sessionID})
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
