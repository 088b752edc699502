// ABOUTME: Hand-written backend and archive fakes for engine tests
// ABOUTME: Streams are canned SSE bodies or pipes the test writes to frame by frame

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/trace"
)

type streamCall struct {
	ConversationID string
	Text           string
	Opts           chat.SendOptions
}

type fakeBackend struct {
	mu sync.Mutex

	nextID      string
	createErr   error
	createFn    func(ctx context.Context) error
	createCalls []string

	// streams are served in order; each is a complete SSE body.
	streams     []string
	openErr     error
	openFn      func(ctx context.Context) (io.ReadCloser, error)
	streamCalls []streamCall

	history   []chat.Message
	listErr   error
	listCalls int
}

func (f *fakeBackend) CreateConversation(ctx context.Context, title string) (*chat.Conversation, error) {
	f.mu.Lock()
	createFn := f.createFn
	f.mu.Unlock()
	if createFn != nil {
		if err := createFn(ctx); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, title)
	if f.createErr != nil {
		return nil, f.createErr
	}
	id := f.nextID
	if id == "" {
		id = fmt.Sprintf("conv-%d", len(f.createCalls))
	}
	return &chat.Conversation{ID: id, Title: title}, nil
}

func (f *fakeBackend) ListMessages(_ context.Context, id string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]chat.Message, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeBackend) OpenMessageStream(ctx context.Context, id, text string, opts chat.SendOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, streamCall{ConversationID: id, Text: text, Opts: opts})
	openErr, openFn := f.openErr, f.openFn
	var body string
	if len(f.streams) > 0 {
		body = f.streams[0]
		f.streams = f.streams[1:]
	}
	f.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}
	if openFn != nil {
		return openFn(ctx)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBackend) creates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.createCalls...)
}

func (f *fakeBackend) calls() []streamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]streamCall(nil), f.streamCalls...)
}

func (f *fakeBackend) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// pipeStreams makes every opened stream a pipe whose writer is handed to the
// test. The pipe fails when the send's context is cancelled, like an HTTP body.
func (f *fakeBackend) pipeStreams() <-chan *io.PipeWriter {
	writers := make(chan *io.PipeWriter, 4)
	f.openFn = func(ctx context.Context) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		context.AfterFunc(ctx, func() { pw.CloseWithError(ctx.Err()) })
		writers <- pw
		return pr, nil
	}
	return writers
}

// blockCreation makes conversation creation wait until the send's context is
// cancelled. The returned channel is closed once creation has started.
func (f *fakeBackend) blockCreation() <-chan struct{} {
	started := make(chan struct{})
	var once sync.Once
	f.createFn = func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return fmt.Errorf("POST /api/chats: %w", ctx.Err())
	}
	return started
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []archivedRun
	err   error
}

type archivedRun struct {
	ConversationID string
	Run            trace.Run
}

func (a *fakeArchive) SaveRun(_ context.Context, conversationID string, run trace.Run) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, archivedRun{ConversationID: conversationID, Run: run})
	return a.err
}

// sse renders frames as an SSE body.
func sse(frames ...string) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: ")
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	return b.String()
}

func chunk(text string) string {
	data, _ := json.Marshal(map[string]string{"type": "chunk", "content": text})
	return string(data)
}

func status(text string) string {
	data, _ := json.Marshal(map[string]string{"type": "status", "content": text})
	return string(data)
}

func debug(payload string) string {
	return `{"type":"debug","content":` + payload + `}`
}

func errorEvent(msg string) string {
	data, _ := json.Marshal(map[string]string{"type": "error", "content": msg})
	return string(data)
}

const done = "[DONE]"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, backend *fakeBackend, mutate ...func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		Backend: backend,
		Now:     func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

// subscribe attaches a broadcaster to the options and returns its channel.
func subscribe(t *testing.T, opts *Options) <-chan conversation.Update {
	t.Helper()
	b := conversation.NewBroadcaster(nil)
	t.Cleanup(b.Close)
	ch, _ := b.Subscribe(t.Context())
	opts.Broadcaster = b
	return ch
}

// drain collects every update already buffered on ch.
func drain(ch <-chan conversation.Update) []conversation.Update {
	var out []conversation.Update
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, u)
		default:
			return out
		}
	}
}

func provisional(msgs []chat.Message, role chat.Role) []chat.Message {
	var out []chat.Message
	for _, m := range msgs {
		if m.IsProvisional() && m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

func confirmedHistory() []chat.Message {
	return []chat.Message{
		{ID: "u1", Role: chat.RoleUser, Content: "Hello", CreatedAt: fixedNow},
		{ID: "a1", Role: chat.RoleAssistant, Content: "Hi", CreatedAt: fixedNow.Add(time.Second)},
	}
}
