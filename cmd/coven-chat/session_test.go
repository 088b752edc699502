// ABOUTME: Tests for slash command parsing and the interactive session loop
// ABOUTME: Uses an in-memory backend that streams canned SSE replies

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/engine"
	"github.com/2389/coven-chat/internal/store"
)

// memBackend is an in-memory engine.Backend and chatAPI.
type memBackend struct {
	mu       sync.Mutex
	convs    []chat.Conversation
	messages map[string][]chat.Message
	sent     []chat.SendOptions
	reply    string
	block    chan struct{} // when set, streams wait on it or ctx
}

func newMemBackend() *memBackend {
	return &memBackend{messages: make(map[string][]chat.Message), reply: "Echo"}
}

func (b *memBackend) CreateConversation(_ context.Context, title string) (*chat.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conv := chat.Conversation{ID: "conv-" + string(rune('a'+len(b.convs))), Title: title, CreatedAt: t0}
	b.convs = append(b.convs, conv)
	return &conv, nil
}

func (b *memBackend) ListMessages(_ context.Context, id string) ([]chat.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chat.Message(nil), b.messages[id]...), nil
}

func (b *memBackend) OpenMessageStream(ctx context.Context, id, text string, opts chat.SendOptions) (io.ReadCloser, error) {
	b.mu.Lock()
	b.sent = append(b.sent, opts)
	n := len(b.messages[id])
	b.messages[id] = append(b.messages[id], chat.Message{ID: id + "-m" + string(rune('0'+n)), Role: chat.RoleUser, Content: text, CreatedAt: t0})
	block := b.block
	reply := b.reply
	if block == nil {
		b.messages[id] = append(b.messages[id], chat.Message{ID: id + "-m" + string(rune('1'+n)), Role: chat.RoleAssistant, Content: reply, CreatedAt: t0})
	}
	b.mu.Unlock()

	if block != nil {
		pr, pw := io.Pipe()
		go func() {
			_, _ = io.WriteString(pw, "data: {\"type\":\"chunk\",\"content\":\"partial\"}\n\n")
			select {
			case <-block:
			case <-ctx.Done():
			}
			pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	}
	body := "data: {\"type\":\"chunk\",\"content\":\"" + reply + "\"}\n\n" +
		"data: {\"type\":\"debug\",\"content\":{\"step\":1}}\n\n" +
		"data: [DONE]\n\n"
	return io.NopCloser(strings.NewReader(body)), nil
}

func (b *memBackend) ListConversations(context.Context) ([]chat.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chat.Conversation(nil), b.convs...), nil
}

func (b *memBackend) RenameConversation(_ context.Context, id, title string) (*chat.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.convs {
		if b.convs[i].ID == id {
			b.convs[i].Title = title
			c := b.convs[i]
			return &c, nil
		}
	}
	return nil, client.ErrNotFound
}

func (b *memBackend) DeleteConversation(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.convs {
		if b.convs[i].ID == id {
			b.convs = append(b.convs[:i], b.convs[i+1:]...)
			delete(b.messages, id)
			return nil
		}
	}
	return client.ErrNotFound
}

func (b *memBackend) GetConversationAnalysis(_ context.Context, id string) (*client.Analysis, error) {
	return &client.Analysis{
		HasPersona: true,
		Persona:    &client.Persona{ConversationID: id, InitialQuestions: []byte(`{"q":"why"}`)},
	}, nil
}

type memArchive struct {
	deleted []string
}

func (a *memArchive) ListRuns(_ context.Context, params store.ListRunsParams) ([]*store.ArchivedRun, error) {
	return []*store.ArchivedRun{{ID: "run-1", ConversationID: params.ConversationID, UserMessage: "hi", EventCount: 2, StartedAt: t0}}, nil
}

func (a *memArchive) DeleteConversationRuns(_ context.Context, id string) (int64, error) {
	a.deleted = append(a.deleted, id)
	return 1, nil
}

type harness struct {
	backend *memBackend
	archive *memArchive
	engine  *engine.Engine
	session *session
	updates <-chan conversation.Update
	out     *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := newMemBackend()
	archive := &memArchive{}
	b := conversation.NewBroadcaster(nil)
	t.Cleanup(b.Close)
	updates, _ := b.Subscribe(t.Context())

	e, err := engine.New(engine.Options{Backend: backend, Broadcaster: b})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &harness{
		backend: backend,
		archive: archive,
		engine:  e,
		session: newSession(e, backend, archive, "", out),
		updates: updates,
		out:     out,
	}
}

func (h *harness) run(t *testing.T, input string) {
	t.Helper()
	require.NoError(t, h.session.run(t.Context(), strings.NewReader(input), h.updates, make(chan os.Signal)))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
		ok   bool
	}{
		{"/help", command{name: "help"}, true},
		{"  /USE  abc  ", command{name: "use", arg: "abc"}, true},
		{"/rename New title here", command{name: "rename", arg: "New title here"}, true},
		{"hello", command{}, false},
		{"/", command{}, false},
	}
	for _, tt := range tests {
		got, ok := parseCommand(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

func TestSession_SendAndHistory(t *testing.T) {
	h := newHarness(t)
	h.run(t, "hello\n/history\n/traces\n/trace 1\n/quit\n")

	out := h.out.String()
	assert.Contains(t, out, "Echo\n")
	assert.Contains(t, out, "you ")
	assert.Contains(t, out, `1. `)
	assert.Contains(t, out, `"step": 1`)

	id, ok := h.engine.ConversationID()
	require.True(t, ok)
	assert.Equal(t, "conv-a", id)
	assert.Len(t, h.engine.Messages(), 2)
}

func TestSession_ModelAndAttachment(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("context"), 0o600))

	h.run(t, "/model small\n/attach "+file+"\nfirst\nsecond\n")

	require.Len(t, h.backend.sent, 2)
	assert.Equal(t, chat.SendOptions{Model: "small", Attachment: "context"}, h.backend.sent[0])
	assert.Equal(t, chat.SendOptions{Model: "small"}, h.backend.sent[1])
}

func TestSession_AttachRejectsOversized(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(file, bytes.Repeat([]byte("x"), engine.MaxAttachmentLength+1), 0o600))

	err := h.session.attach(file)
	assert.Error(t, err)
	assert.Empty(t, h.session.attachment)
}

func TestSession_ConversationCommands(t *testing.T) {
	h := newHarness(t)
	h.run(t, "hello\n/chats\n/rename Better\n/analysis\n/archive\n/delete\n")

	out := h.out.String()
	assert.Contains(t, out, "* conv-a  hello")
	assert.Contains(t, out, `Renamed to "Better"`)
	assert.Contains(t, out, "persona: yes")
	assert.Contains(t, out, `"q": "why"`)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "Deleted conv-a")

	assert.Equal(t, []string{"conv-a"}, h.archive.deleted)
	_, ok := h.engine.ConversationID()
	assert.False(t, ok)
	assert.Empty(t, h.engine.Messages())
}

func TestSession_CommandsNeedConversation(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"rename", "delete", "analysis", "archive"} {
		_, err := h.session.handle(t.Context(), command{name: name, arg: "x"})
		assert.ErrorIs(t, err, errNoConversation, name)
	}
}

func TestSession_UnknownCommand(t *testing.T) {
	h := newHarness(t)
	quit, err := h.session.handle(t.Context(), command{name: "bogus"})
	assert.False(t, quit)
	assert.ErrorContains(t, err, "unknown command /bogus")
}

func TestSession_UseAndNew(t *testing.T) {
	h := newHarness(t)
	h.backend.messages["conv-z"] = []chat.Message{{ID: "m1", Role: chat.RoleUser, Content: "old", CreatedAt: t0}}

	h.run(t, "/use conv-z\n/new\n")

	assert.Contains(t, h.out.String(), "Opened conv-z (1 messages)")
	_, ok := h.engine.ConversationID()
	assert.False(t, ok)
}

func TestSession_InterruptCancelsSend(t *testing.T) {
	h := newHarness(t)
	h.backend.block = make(chan struct{})
	interrupts := make(chan os.Signal, 1)

	done := make(chan error, 1)
	go func() {
		done <- h.session.send(t.Context(), "hello", h.updates, interrupts)
	}()

	// Let the first chunk arrive before interrupting.
	require.Eventually(t, func() bool {
		for _, m := range h.engine.Messages() {
			if m.Role == chat.RoleAssistant && m.Content == "partial" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	interrupts <- os.Interrupt

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not stop after interrupt")
	}
	assert.Equal(t, engine.PhaseIdle, h.engine.Phase())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", truncate("éééééééé", 6))
}
