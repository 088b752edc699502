// ABOUTME: In-memory ordered message list for one conversation view
// ABOUTME: Replace-by-id mutations only; never holds two messages with the same id

package chat

import (
	"errors"
	"sync"
)

// ErrDuplicateID is returned when appending a message whose id is already present.
var ErrDuplicateID = errors.New("message id already present")

// Store holds the ordered messages of the active conversation. It performs no I/O.
// Readers may call Messages from any goroutine while a send is folding content.
type Store struct {
	mu       sync.RWMutex
	messages []Message
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Append adds a message to the end. Ordering is insertion order.
func (s *Store) Append(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(msg.ID) >= 0 {
		return ErrDuplicateID
	}
	s.messages = append(s.messages, msg)
	return nil
}

// ReplaceByID replaces the message with the given id by patch(old).
// The id of the result is forced back to the original id. Returns false
// and leaves the store untouched when no message matches.
func (s *Store) ReplaceByID(id string, patch func(Message) Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false
	}

	// Copy-on-write so snapshots handed out earlier never change underneath a reader.
	next := make([]Message, len(s.messages))
	copy(next, s.messages)
	updated := patch(next[i])
	updated.ID = id
	next[i] = updated
	s.messages = next
	return true
}

// RemoveIDs filters out every message whose id is in ids.
func (s *Store) RemoveIDs(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		if _, ok := drop[m.ID]; ok {
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
}

// ReplaceAll swaps in an authoritative list. Later duplicates of an id are dropped.
func (s *Store) ReplaceAll(msgs []Message) {
	next := make([]Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		next = append(next, m)
	}

	s.mu.Lock()
	s.messages = next
	s.mu.Unlock()
}

// Messages returns a copy of the current list.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) indexLocked(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
