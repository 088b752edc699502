// ABOUTME: Send orchestration: optimistic insert, stream fold, and reconciliation
// ABOUTME: Maps each failure to rollback, retention, or a surfaced error

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/stream"
)

// archiveTimeout bounds saving a finished trace run.
const archiveTimeout = 5 * time.Second

// Send sends text to the active conversation, creating one first if needed,
// and folds the reply into the message list as it streams.
//
// Blank, oversized, and concurrent sends are rejected with ErrEmptyMessage,
// ErrMessageTooLong, and ErrBusy without touching any state. Every other
// failure is returned and also kept as the user-visible error.
func (e *Engine) Send(ctx context.Context, text string, opts chat.SendOptions) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxContentLength ||
		utf8.RuneCountInString(opts.Attachment) > MaxAttachmentLength {
		return ErrMessageTooLong
	}
	if e.detached.Load() {
		return ErrDetached
	}
	if !e.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseSending)) {
		e.logger.Debug("send rejected", "phase", e.Phase().String())
		return ErrBusy
	}

	gen := e.generation.Load()
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.draft = ""
	e.lastErr = nil
	e.cancelSend = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.cancelSend = nil
		e.mu.Unlock()
		e.phase.Store(int32(PhaseIdle))
		e.publish()
	}()

	// Detach may have run before cancelSend was set.
	if e.detached.Load() {
		return ErrDetached
	}

	if opts.Model == "" {
		opts.Model = e.defaultModel
	}
	e.publish()

	return e.send(ctx, gen, text, opts)
}

func (e *Engine) send(ctx context.Context, gen uint64, text string, opts chat.SendOptions) error {
	convID, err := e.lifecycle.EnsureActive(ctx, text)
	if err != nil {
		if e.cancelled(ctx, gen) {
			e.logger.Info("send cancelled while starting conversation")
			return e.cancelErr(ctx)
		}
		err = fmt.Errorf("%w: %w", ErrLifecycleCreation, err)
		e.logger.Error("conversation creation failed", "error", err)
		e.fail(err)
		return err
	}

	logger := e.logger.With("conversation_id", convID)
	logger.Info("sending message", "length", utf8.RuneCountInString(text), "model", opts.Model)

	run := e.recorder.StartRun(text)
	defer e.archiveRun(ctx, convID, run, logger)

	now := e.now()
	user := chat.NewProvisional(chat.RoleUser, text, now)
	reply := chat.NewProvisional(chat.RoleAssistant, "", now)
	if err := e.store.Append(user); err != nil {
		e.fail(err)
		return err
	}
	if err := e.store.Append(reply); err != nil {
		e.store.RemoveIDs(user.ID)
		e.fail(err)
		return err
	}
	e.publish()

	body, err := e.backend.OpenMessageStream(ctx, convID, text, opts)
	if err != nil {
		e.rollback(gen, user.ID, reply.ID)
		if e.cancelled(ctx, gen) {
			return e.cancelErr(ctx)
		}
		err = fmt.Errorf("%w: %w", ErrStreamTransport, err)
		logger.Error("opening stream failed", "error", err)
		e.fail(err)
		return err
	}

	dec := stream.NewDecoder(body, e.logger)
	cancelled, streamErr := e.consume(ctx, gen, dec, reply.ID, logger)
	_ = dec.Close()

	if cancelled {
		logger.Info("send cancelled, discarding remaining events")
		e.retire(gen, user.ID, reply.ID)
		return e.cancelErr(ctx)
	}

	msgs, err := e.backend.ListMessages(ctx, convID)
	if e.cancelled(ctx, gen) {
		e.retire(gen, user.ID, reply.ID)
		return e.cancelErr(ctx)
	}

	var reconcileErr error
	if err != nil {
		reconcileErr = fmt.Errorf("%w: %w", ErrHistoryReconciliation, err)
		logger.Warn("history reconciliation failed, keeping local messages", "error", err)
		e.retire(gen, user.ID, reply.ID)
	} else {
		e.store.ReplaceAll(msgs)
		logger.Debug("history reconciled", "messages", len(msgs))
	}

	if surfaced := errors.Join(streamErr, reconcileErr); surfaced != nil {
		e.fail(surfaced)
		return surfaced
	}

	logger.Info("send finished")
	return nil
}

// consume folds events into the store and trace until the stream terminates.
// It reports whether the send was cancelled and the stream's error, if any.
func (e *Engine) consume(ctx context.Context, gen uint64, dec *stream.Decoder, replyID string, logger *slog.Logger) (bool, error) {
	var acc strings.Builder

	for ev := range dec.Events() {
		if e.cancelled(ctx, gen) {
			return true, nil
		}

		switch ev := ev.(type) {
		case stream.Chunk:
			e.fold(replyID, &acc, ev.Text, logger)
		case stream.Status:
			e.fold(replyID, &acc, ev.Text, logger)
		case stream.Debug:
			if !e.recorder.Append(ev.Payload) {
				logger.Debug("debug event dropped, no active run")
			}
		case stream.Error:
			if ev.ConnectionFailure() {
				logger.Error("stream ended early", "error", ev.Message)
				return false, fmt.Errorf("%w: %s", ErrStreamTransport, ev.Message)
			}
			logger.Warn("assistant reported an error", "error", ev.Message)
			return false, fmt.Errorf("%w: %s", ErrStreamProtocol, ev.Message)
		case stream.Done:
			return false, nil
		}
	}

	return e.cancelled(ctx, gen), nil
}

// fold grows the in-flight reply. Content only ever gets longer.
func (e *Engine) fold(replyID string, acc *strings.Builder, text string, logger *slog.Logger) {
	if text == "" {
		return
	}
	acc.WriteString(text)
	content := acc.String()
	e.store.ReplaceByID(replyID, func(m chat.Message) chat.Message {
		m.Content = content
		return m
	})
	logger.Debug("folded chunk", "bytes", len(text), "total", len(content))
	e.publish()
}

// rollback removes exactly the provisional messages of one send.
func (e *Engine) rollback(gen uint64, ids ...string) {
	if e.generation.Load() != gen {
		return
	}
	e.store.RemoveIDs(ids...)
	e.publish()
}

// retire keeps a send's placeholders but takes them out of flight.
func (e *Engine) retire(gen uint64, ids ...string) {
	if e.generation.Load() != gen {
		return
	}
	for _, id := range ids {
		e.store.ReplaceByID(id, func(m chat.Message) chat.Message {
			if m.State == chat.StateProvisional {
				m.State = chat.StateUnconfirmed
			}
			return m
		})
	}
	e.publish()
}

func (e *Engine) fail(err error) {
	e.phase.Store(int32(PhaseFailed))
	e.setError(err)
	e.publish()
}

func (e *Engine) cancelled(ctx context.Context, gen uint64) bool {
	return ctx.Err() != nil || e.generation.Load() != gen
}

func (e *Engine) cancelErr(ctx context.Context) error {
	if e.detached.Load() {
		return ErrDetached
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.Canceled
}

func (e *Engine) archiveRun(ctx context.Context, convID string, index int, logger *slog.Logger) {
	if e.archive == nil {
		return
	}
	run, ok := e.recorder.Run(index)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := e.archive.SaveRun(ctx, convID, run); err != nil {
		logger.Warn("archiving trace run failed", "run", index, "error", err)
	}
}
