// ABOUTME: Lifecycle manager deciding when a conversation must be created before a send
// ABOUTME: Owns the active conversation identity and notifies listeners when it changes

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/2389/coven-chat/internal/chat"
)

const (
	// DefaultTitleMaxLength bounds titles derived from the first message, in runes.
	DefaultTitleMaxLength = 50

	// DefaultTitle is used when the draft has no usable text.
	DefaultTitle = "New Chat"

	ellipsis = "..."
)

// ErrEmptyID is returned by the creator contract check when the backend returns no id.
var ErrEmptyID = errors.New("backend returned an empty conversation id")

// Creator creates conversations on the backend.
type Creator interface {
	CreateConversation(ctx context.Context, title string) (*chat.Conversation, error)
}

// Manager tracks the active conversation identity for one view.
type Manager struct {
	creator  Creator
	maxTitle int
	logger   *slog.Logger

	mu        sync.RWMutex
	id        string
	listeners []func(id string)
}

// NewManager creates a Manager with no active conversation.
// A maxTitle of zero or less uses DefaultTitleMaxLength.
func NewManager(creator Creator, maxTitle int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTitle <= 0 {
		maxTitle = DefaultTitleMaxLength
	}
	return &Manager{
		creator:  creator,
		maxTitle: maxTitle,
		logger:   logger.With("component", "lifecycle"),
	}
}

// Active returns the active conversation id, if any.
func (m *Manager) Active() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id, m.id != ""
}

// OnAssigned registers fn to be called whenever the active id changes.
// fn receives "" when the identity is reset.
func (m *Manager) OnAssigned(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetActive switches the view to an existing conversation.
func (m *Manager) SetActive(id string) {
	m.assign(id)
}

// Reset clears the active identity, e.g. after the conversation was deleted.
func (m *Manager) Reset() {
	m.assign("")
}

// Ensure returns currentID unchanged when present. Otherwise it creates a
// conversation titled after draft and returns the new id. No I/O happens
// when currentID is present.
func (m *Manager) Ensure(ctx context.Context, currentID, draft string) (string, error) {
	if currentID != "" {
		return currentID, nil
	}

	title := Title(draft, m.maxTitle)
	conv, err := m.creator.CreateConversation(ctx, title)
	if err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	if conv == nil || conv.ID == "" {
		return "", ErrEmptyID
	}

	m.logger.Info("conversation created", "conversation_id", conv.ID, "title", title)
	return conv.ID, nil
}

// EnsureActive runs Ensure against the active identity and records a newly
// created id as active, notifying listeners.
func (m *Manager) EnsureActive(ctx context.Context, draft string) (string, error) {
	current, _ := m.Active()
	id, err := m.Ensure(ctx, current, draft)
	if err != nil {
		return "", err
	}
	if id != current {
		m.assign(id)
	}
	return id, nil
}

func (m *Manager) assign(id string) {
	m.mu.Lock()
	if m.id == id {
		m.mu.Unlock()
		return
	}
	m.id = id
	listeners := make([]func(string), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
}

// Title derives a conversation title from the first message: whitespace is
// collapsed and the result is cut to maxRunes, with an ellipsis when cut.
func Title(draft string, maxRunes int) string {
	title := strings.Join(strings.Fields(draft), " ")
	if title == "" {
		return DefaultTitle
	}
	if maxRunes <= 0 {
		maxRunes = DefaultTitleMaxLength
	}
	if utf8.RuneCountInString(title) <= maxRunes {
		return title
	}

	keep := maxRunes - utf8.RuneCountInString(ellipsis)
	if keep < 1 {
		keep = 1
	}
	runes := []rune(title)
	return strings.TrimRight(string(runes[:keep]), " ") + ellipsis
}
