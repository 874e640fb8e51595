package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Message is a decoded server frame.
type Message struct {
	Namespace string          `json:"namespace"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	ReplyID   string          `json:"reply_id,omitempty"`
}

// WSClient is a WebSocket test client for integration testing.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// DialWS connects to the WebSocket endpoint at path on an httptest server URL
// ("http://..."), returning a test client.
//
// Precondition: serverURL must point at a listening server.
// Postcondition: Returns a connected WSClient or fails the test.
func DialWS(t *testing.T, serverURL, path string) *WSClient {
	t.Helper()
	start := time.Now()

	url := "ws" + strings.TrimPrefix(serverURL, "http") + path
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, http.Header{})
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// Read returns the next frame or fails the test on timeout.
func (c *WSClient) Read(timeout time.Duration) Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.t.Fatalf("decoding frame %q: %v", frame, err)
	}
	return msg
}

// ReadUntil reads frames until one matches namespace and event.
//
// Postcondition: Returns the matching frame, or fails on timeout.
func (c *WSClient) ReadUntil(namespace, event string, timeout time.Duration) Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no %s/%s frame within %s", namespace, event, timeout)
		}
		msg := c.Read(remaining)
		if msg.Namespace == namespace && msg.Event == event {
			return msg
		}
	}
}

// Send writes v as a JSON text frame.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("sending %v: %v", v, err)
	}
}

// SendRaw writes text as-is.
func (c *WSClient) SendRaw(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Closed reports whether the server closes the connection within timeout.
func (c *WSClient) Closed(timeout time.Duration) bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var netErr net.Error
			return !(errors.As(err, &netErr) && netErr.Timeout())
		}
	}
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	c.conn.Close()
}
