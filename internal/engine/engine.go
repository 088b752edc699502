// ABOUTME: Conversation view engine composing store, lifecycle, decoder, and trace recorder
// ABOUTME: Exposes the read side to the UI and guards the single-flight send token

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/trace"
)

// Content limits enforced before a send changes any state, in runes.
const (
	MaxContentLength    = 5000
	MaxAttachmentLength = 50000
)

var (
	// ErrLifecycleCreation means the conversation could not be created. Nothing
	// was added to the store.
	ErrLifecycleCreation = errors.New("could not start conversation")
	// ErrStreamTransport means the stream could not be opened or the connection
	// dropped.
	ErrStreamTransport = errors.New("stream connection failed")
	// ErrStreamProtocol means the backend reported an error in the stream.
	ErrStreamProtocol = errors.New("assistant error")
	// ErrHistoryReconciliation means the post-stream history fetch failed. The
	// local messages were kept.
	ErrHistoryReconciliation = errors.New("could not refresh conversation history")

	// ErrBusy is returned when a send or load is already running.
	ErrBusy = errors.New("a send is already in progress")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrMessageTooLong is returned when content or attachment exceed the limits.
	ErrMessageTooLong = errors.New("message too long")
	// ErrDetached is returned once the view has been torn down.
	ErrDetached = errors.New("conversation view closed")
	// ErrNoConversation is returned by Load when no conversation is active.
	ErrNoConversation = errors.New("no active conversation")
)

// Backend is the set of backend calls the engine depends on.
type Backend interface {
	CreateConversation(ctx context.Context, title string) (*chat.Conversation, error)
	ListMessages(ctx context.Context, id string) ([]chat.Message, error)
	OpenMessageStream(ctx context.Context, id, text string, opts chat.SendOptions) (io.ReadCloser, error)
}

// TraceArchive persists finished trace runs.
type TraceArchive interface {
	SaveRun(ctx context.Context, conversationID string, run trace.Run) error
}

// Phase is the state of the send state machine.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseFailed
	PhaseLoading
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseFailed:
		return "failed"
	case PhaseLoading:
		return "loading"
	default:
		return "unknown"
	}
}

// Options configures an Engine.
type Options struct {
	Backend Backend
	// ConversationID resumes an existing conversation. Empty starts with none.
	ConversationID string
	TitleMaxLength int
	// DefaultModel is used when a send does not name a model.
	DefaultModel string
	Archive      TraceArchive
	Broadcaster  *conversation.Broadcaster
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine drives one conversation view.
type Engine struct {
	backend      Backend
	lifecycle    *conversation.Manager
	store        *chat.Store
	recorder     *trace.Recorder
	broadcaster  *conversation.Broadcaster
	archive      TraceArchive
	defaultModel string
	logger       *slog.Logger
	now          func() time.Time

	phase      atomic.Int32
	generation atomic.Uint64
	detached   atomic.Bool

	mu         sync.Mutex
	draft      string
	lastErr    error
	cancelSend context.CancelFunc
}

// New creates an Engine. Backend is required.
func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("engine: backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		backend:      opts.Backend,
		lifecycle:    conversation.NewManager(opts.Backend, opts.TitleMaxLength, logger),
		store:        chat.NewStore(),
		recorder:     trace.NewRecorder(),
		broadcaster:  opts.Broadcaster,
		archive:      opts.Archive,
		defaultModel: opts.DefaultModel,
		logger:       logger.With("component", "engine"),
		now:          now,
	}
	if opts.ConversationID != "" {
		e.lifecycle.SetActive(opts.ConversationID)
	}
	e.lifecycle.OnAssigned(func(id string) {
		e.logger.Debug("active conversation changed", "conversation_id", id)
	})
	return e, nil
}

// ConversationID returns the active conversation id, if any.
func (e *Engine) ConversationID() (string, bool) {
	return e.lifecycle.Active()
}

// OnConversationAssigned registers fn to run whenever the active id changes.
func (e *Engine) OnConversationAssigned(fn func(id string)) {
	e.lifecycle.OnAssigned(fn)
}

// Messages returns a snapshot of the message list.
func (e *Engine) Messages() []chat.Message {
	return e.store.Messages()
}

// Phase returns the current state machine phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// Streaming reports whether a send is in flight.
func (e *Engine) Streaming() bool {
	return e.Phase() == PhaseSending
}

// Error returns the latest user-visible error, or nil.
func (e *Engine) Error() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// ClearError dismisses the user-visible error.
func (e *Engine) ClearError() {
	e.setError(nil)
	e.publish()
}

// SetDraft replaces the input text.
func (e *Engine) SetDraft(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.draft = text
}

// Draft returns the input text.
func (e *Engine) Draft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Submit sends the current draft. The draft is left untouched when the send
// is rejected.
func (e *Engine) Submit(ctx context.Context, opts chat.SendOptions) error {
	return e.Send(ctx, e.Draft(), opts)
}

// Runs returns every trace run recorded in this session, oldest first.
func (e *Engine) Runs() []trace.Run {
	return e.recorder.Runs()
}

// SelectRun moves the inspection cursor. -1 clears it.
func (e *Engine) SelectRun(i int) error {
	return e.recorder.Select(i)
}

// SelectedRun returns the run under the inspection cursor.
func (e *Engine) SelectedRun() (trace.Run, int, bool) {
	return e.recorder.Selected()
}

// Load replaces the message list with the active conversation's history.
func (e *Engine) Load(ctx context.Context) error {
	if e.detached.Load() {
		return ErrDetached
	}
	id, ok := e.lifecycle.Active()
	if !ok {
		return ErrNoConversation
	}
	if !e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseLoading)) {
		return ErrBusy
	}
	defer e.phase.Store(int32(PhaseIdle))

	msgs, err := e.backend.ListMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	e.store.ReplaceAll(msgs)
	e.logger.Info("history loaded", "conversation_id", id, "messages", len(msgs))
	e.publish()
	return nil
}

// Open switches the view to an existing conversation and loads its history.
func (e *Engine) Open(ctx context.Context, id string) error {
	if err := e.Reset(); err != nil {
		return err
	}
	e.lifecycle.SetActive(id)
	return e.Load(ctx)
}

// Reset returns the view to "no conversation yet", e.g. after a delete.
// Trace runs are kept.
func (e *Engine) Reset() error {
	if e.detached.Load() {
		return ErrDetached
	}
	if !e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseLoading)) {
		return ErrBusy
	}
	defer e.phase.Store(int32(PhaseIdle))

	e.generation.Add(1)
	e.lifecycle.Reset()
	e.store.ReplaceAll(nil)
	e.setError(nil)
	e.publish()
	return nil
}

// Detach tears the view down. A send in flight stops applying events and its
// request is cancelled; later calls return ErrDetached.
func (e *Engine) Detach() {
	if e.detached.Swap(true) {
		return
	}
	e.generation.Add(1)

	e.mu.Lock()
	cancel := e.cancelSend
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.logger.Debug("view detached")
}

func (e *Engine) setError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
}

// publish sends a snapshot to subscribers.
func (e *Engine) publish() {
	if e.broadcaster == nil {
		return
	}
	id, _ := e.lifecycle.Active()
	e.broadcaster.Publish(conversation.Update{
		ConversationID: id,
		Messages:       e.store.Messages(),
		Streaming:      e.Streaming(),
		Err:            e.Error(),
	})
}
