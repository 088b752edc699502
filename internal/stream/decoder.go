// ABOUTME: Server-Sent Events decoder turning a raw response body into typed events
// ABOUTME: Buffers partial frames and maps malformed or truncated input to Error events

package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
)

// Generic messages for failures the backend did not report itself.
const (
	MsgConnectionClosed = "connection closed before the response completed"
	MsgConnectionLost   = "connection lost while receiving the response"
	MsgDefaultError     = "the assistant reported an error"
)

// doneSentinel is the payload the backend sends as its final frame.
const doneSentinel = "[DONE]"

// Decoder reads SSE frames from a body and yields Events. It is single-pass:
// once a terminal event has been returned, Next reports no further events.
// A new request is needed to decode again.
type Decoder struct {
	r        *bufio.Reader
	closer   io.Closer
	logger   *slog.Logger
	finished bool

	// current frame
	eventName string
	data      []string
}

// NewDecoder wraps body. If body is an io.Closer, Close closes it.
func NewDecoder(body io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Decoder{
		r:      bufio.NewReader(body),
		logger: logger.With("component", "decoder"),
	}
	if c, ok := body.(io.Closer); ok {
		d.closer = c
	}
	return d
}

// Next returns the next event. ok is false once the stream has terminated.
// Next never returns a transport error: truncation and read failures come back
// as an Error event.
func (d *Decoder) Next() (Event, bool) {
	if d.finished {
		return nil, false
	}

	for {
		line, err := d.r.ReadString('\n')
		if len(line) > 0 {
			// A final line without a newline still counts.
			if ev, ok := d.handleLine(strings.TrimRight(line, "\r\n")); ok {
				return d.emit(ev), true
			}
		}
		if err == nil {
			continue
		}

		// Flush whatever frame was pending when the body ended.
		if ev, ok := d.dispatch(); ok {
			if IsTerminal(ev) {
				return d.emit(ev), true
			}
			// Non-terminal trailing frame: deliver it, report truncation next call.
			return ev, true
		}

		d.finished = true
		if errors.Is(err, io.EOF) {
			d.logger.Debug("stream ended without terminal event")
			return connectionError(MsgConnectionClosed), true
		}
		d.logger.Debug("stream read failed", "error", err)
		return connectionError(MsgConnectionLost), true
	}
}

// Events returns a lazy sequence over the remaining events.
func (d *Decoder) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, ok := d.Next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Close releases the underlying body.
func (d *Decoder) Close() error {
	d.finished = true
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

func (d *Decoder) emit(ev Event) Event {
	if IsTerminal(ev) {
		d.finished = true
	}
	return ev
}

// handleLine consumes one line. It returns an event when the line completes a frame.
func (d *Decoder) handleLine(line string) (Event, bool) {
	if line == "" {
		return d.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return nil, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		d.eventName = strings.TrimSpace(value)
	case "data":
		d.data = append(d.data, value)
	default:
		// id, retry and unknown fields carry nothing we use
	}
	return nil, false
}

// dispatch turns the buffered frame into an event and resets the buffer.
// Frames with no data, or with an unknown type, produce nothing.
func (d *Decoder) dispatch() (Event, bool) {
	name, lines := d.eventName, d.data
	d.eventName, d.data = "", nil

	if len(lines) == 0 {
		return nil, false
	}
	payload := strings.Join(lines, "\n")
	if strings.TrimSpace(payload) == doneSentinel {
		return Done{}, true
	}

	ev, err := decodePayload(name, []byte(payload))
	if err != nil {
		d.logger.Debug("malformed stream event", "error", err, "event", name)
		return Error{Message: fmt.Sprintf("malformed stream event: %v", err)}, true
	}
	if ev == nil {
		d.logger.Debug("skipping unknown stream event", "event", name)
		return nil, false
	}
	return ev, true
}

// wireEvent is the JSON shape of a frame's data.
type wireEvent struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// decodePayload maps one JSON payload to an Event. The SSE event name is used
// when the payload carries no type. Unknown types yield (nil, nil).
func decodePayload(eventName string, payload []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}

	kind := Kind(w.Type)
	if kind == "" {
		kind = Kind(eventName)
	}

	switch kind {
	case KindChunk:
		text, err := contentText(w.Content)
		if err != nil {
			return nil, err
		}
		return Chunk{Text: text}, nil
	case KindStatus:
		text, err := contentText(w.Content)
		if err != nil {
			return nil, err
		}
		return Status{Text: text}, nil
	case KindDebug:
		raw := w.Content
		if len(raw) == 0 {
			raw = payload
		}
		return Debug{Payload: append(json.RawMessage(nil), raw...)}, nil
	case KindError:
		msg, _ := contentText(w.Content)
		if msg == "" {
			msg = w.Error
		}
		if msg == "" {
			msg = w.Message
		}
		if msg == "" {
			msg = MsgDefaultError
		}
		return Error{Message: msg}, nil
	case KindDone:
		return Done{}, nil
	case "":
		return nil, errors.New("event has no type")
	default:
		return nil, nil
	}
}

// contentText reads a string content field. Absent or null content is empty text.
func contentText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("content is not text: %w", err)
	}
	return s, nil
}
