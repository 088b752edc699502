// ABOUTME: WebSocket transport for the message stream
// ABOUTME: Re-frames each JSON message as an SSE data frame on an io.Pipe

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

func (c *Client) websocketURL(id string) string {
	endpoint := c.endpoint("api", "chats", id, "ws")
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}

func (c *Client) openWebSocket(ctx context.Context, id string, payload streamRequest) (io.ReadCloser, error) {
	// Reuse newRequest for the auth header and expiry check.
	req, err := c.newRequest(ctx, http.MethodGet, c.websocketURL(id), nil)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.requestTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, req.URL.String(), req.Header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return nil, fmt.Errorf("opening stream: %w", readStatusError(resp))
		}
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if err := conn.WriteJSON(payload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending message: %w", err)
	}

	pr, pw := io.Pipe()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	go c.pumpWebSocket(conn, pw)

	return &wsStream{PipeReader: pr, conn: conn, stop: stop}, nil
}

// pumpWebSocket copies frames into pw until the connection ends. A normal
// close ends the pipe cleanly; anything else is passed on as a read error.
func (c *Client) pumpWebSocket(conn *websocket.Conn, pw *io.PipeWriter) {
	for {
		if c.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pw.Close()
				return
			}
			c.logger.Debug("websocket read ended", "error", err)
			pw.CloseWithError(err)
			return
		}

		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		if _, err := pw.Write(sseFrame(data)); err != nil {
			// reader closed
			return
		}
	}
}

// sseFrame wraps a payload as a single SSE event.
func sseFrame(data []byte) []byte {
	var buf bytes.Buffer
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

type wsStream struct {
	*io.PipeReader
	conn *websocket.Conn
	stop func() bool
}

func (s *wsStream) Close() error {
	s.stop()
	_ = s.PipeReader.Close()
	return s.conn.Close()
}
