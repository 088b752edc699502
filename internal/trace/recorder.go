// ABOUTME: Diagnostic trace recorder grouping raw debug events into per-send runs
// ABOUTME: Only the most recently started run accepts new events; history is append-only

package trace

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoSuchRun is returned when selecting a run index that does not exist.
var ErrNoSuchRun = errors.New("no such trace run")

// Run is the diagnostic record of one send attempt.
type Run struct {
	ID          string
	StartedAt   time.Time
	UserMessage string
	Events      []json.RawMessage
}

// Recorder collects trace runs for a session. It is independent of the
// conversation store and safe for concurrent use.
type Recorder struct {
	mu       sync.RWMutex
	runs     []*Run
	active   int // index of the run receiving events, -1 when none
	selected int // read-side cursor, -1 when none
	now      func() time.Time
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		active:   -1,
		selected: -1,
		now:      time.Now,
	}
}

// StartRun begins a new run for userMessage and makes it the only run that
// accepts events. Returns the run's index.
func (r *Recorder) StartRun(userMessage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs = append(r.runs, &Run{
		ID:          uuid.NewString(),
		StartedAt:   r.now(),
		UserMessage: userMessage,
	})
	r.active = len(r.runs) - 1
	return r.active
}

// Append adds payload to the active run. Without an active run it is dropped.
// Reports whether the payload was recorded.
func (r *Recorder) Append(payload json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active < 0 {
		return false
	}
	run := r.runs[r.active]
	run.Events = append(run.Events, append(json.RawMessage(nil), payload...))
	return true
}

// Runs returns copies of all runs in start order.
func (r *Recorder) Runs() []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Run, len(r.runs))
	for i, run := range r.runs {
		out[i] = copyRun(run)
	}
	return out
}

// Run returns a copy of the run at index i.
func (r *Recorder) Run(i int) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i < 0 || i >= len(r.runs) {
		return Run{}, false
	}
	return copyRun(r.runs[i]), true
}

// Select moves the inspection cursor. -1 clears it.
func (r *Recorder) Select(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i < -1 || i >= len(r.runs) {
		return ErrNoSuchRun
	}
	r.selected = i
	return nil
}

// Selected returns the run under the inspection cursor.
func (r *Recorder) Selected() (Run, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.selected < 0 {
		return Run{}, -1, false
	}
	return copyRun(r.runs[r.selected]), r.selected, true
}

func copyRun(run *Run) Run {
	c := *run
	c.Events = make([]json.RawMessage, len(run.Events))
	copy(c.Events, run.Events)
	return c
}
