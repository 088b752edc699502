// ABOUTME: Typed stream events delivered by the backend while a reply is generated
// ABOUTME: Closed sum type: Chunk, Status, Debug, Error, Done

package stream

import "encoding/json"

// Kind names an event variant on the wire.
type Kind string

// Wire names of the event variants.
const (
	KindChunk  Kind = "chunk"
	KindStatus Kind = "status"
	KindDebug  Kind = "debug"
	KindError  Kind = "error"
	KindDone   Kind = "done"
)

// Event is one decoded stream event. The set of implementations is closed;
// consumers switch over the concrete types.
type Event interface {
	Kind() Kind
	isEvent()
}

// Chunk carries reply text to append.
type Chunk struct {
	Text string
}

// Status carries progress text to append.
type Status struct {
	Text string
}

// Debug carries an opaque diagnostic payload. It never affects conversation content.
type Debug struct {
	Payload json.RawMessage
}

// Error reports a failure. It terminates the stream.
type Error struct {
	Message string

	// local is set when the decoder produced the error itself because the
	// connection ended, as opposed to an error event sent by the backend.
	local bool
}

// Done marks normal completion. It terminates the stream.
type Done struct{}

func (Chunk) Kind() Kind  { return KindChunk }
func (Status) Kind() Kind { return KindStatus }
func (Debug) Kind() Kind  { return KindDebug }
func (Error) Kind() Kind  { return KindError }
func (Done) Kind() Kind   { return KindDone }

func (Chunk) isEvent()  {}
func (Status) isEvent() {}
func (Debug) isEvent()  {}
func (Error) isEvent()  {}
func (Done) isEvent()   {}

// ConnectionFailure reports whether the error was produced locally because
// the connection ended early, rather than reported by the backend.
func (e Error) ConnectionFailure() bool {
	return e.local
}

func connectionError(msg string) Error {
	return Error{Message: msg, local: true}
}

// IsTerminal reports whether e ends the stream.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Error, Done:
		return true
	default:
		return false
	}
}
