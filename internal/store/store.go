// ABOUTME: Trace archive interface and record types for coven-chat persistence
// ABOUTME: Defines ArchivedRun and the TraceStore interface for database operations

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/2389/coven-chat/internal/trace"
)

// ErrNotFound is returned when a requested run does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateRun is returned when saving a run id that was already archived
var ErrDuplicateRun = errors.New("trace run already archived")

// Default and maximum page sizes for ListRuns.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ArchivedRun is a trace run as stored on disk.
type ArchivedRun struct {
	ID             string
	ConversationID string
	StartedAt      time.Time
	SavedAt        time.Time
	UserMessage    string
	EventCount     int
	Events         []json.RawMessage // only populated by GetRun
}

// ListRunsParams filters ListRuns.
type ListRunsParams struct {
	ConversationID string // optional: only runs of this conversation
	Limit          int    // 1-500, defaults to 50
}

// TraceStore persists finished trace runs for later inspection.
type TraceStore interface {
	SaveRun(ctx context.Context, conversationID string, run trace.Run) error
	GetRun(ctx context.Context, id string) (*ArchivedRun, error)
	ListRuns(ctx context.Context, params ListRunsParams) ([]*ArchivedRun, error)
	DeleteConversationRuns(ctx context.Context, conversationID string) (int64, error)
	Close() error
}

var _ TraceStore = (*SQLiteStore)(nil)
