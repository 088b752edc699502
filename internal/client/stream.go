// ABOUTME: Opens the message stream for a send over SSE or WebSocket
// ABOUTME: Both transports hand back an SSE-framed body for the stream decoder

package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/config"
)

// streamRequest is the body of POST /api/chats/{id}/stream and the first
// WebSocket frame.
type streamRequest struct {
	Content    string `json:"content"`
	Model      string `json:"model,omitempty"`
	Attachment string `json:"attachment_content,omitempty"`
}

// OpenMessageStream posts text to a conversation and returns the response
// stream. The caller must close it. Failures to connect are returned as errors;
// everything after that surfaces through the stream itself.
func (c *Client) OpenMessageStream(ctx context.Context, id, text string, opts chat.SendOptions) (io.ReadCloser, error) {
	payload := streamRequest{
		Content:    text,
		Model:      opts.Model,
		Attachment: opts.Attachment,
	}

	c.logger.Debug("opening message stream",
		"conversation_id", id,
		"transport", c.transport,
		"model", opts.Model,
	)

	if c.transport == config.TransportWebSocket {
		return c.openWebSocket(ctx, id, payload)
	}
	return c.openSSE(ctx, id, payload)
}

func (c *Client) openSSE(ctx context.Context, id string, payload streamRequest) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("api", "chats", id, "stream"), payload)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, fmt.Errorf("opening stream: %w", readStatusError(resp))
	}

	return newIdleBody(resp.Body, c.idleTimeout, cancel), nil
}

// idleBody cancels the underlying request when no bytes arrive for timeout.
type idleBody struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
}

func newIdleBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleBody {
	b := &idleBody{body: body, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, cancel)
	}
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if b.timer != nil && n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.cancel()
	return b.body.Close()
}
