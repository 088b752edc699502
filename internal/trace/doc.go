// Package trace records raw diagnostic events of the message stream.
//
// Every send starts a Run; debug payloads received afterwards are appended to
// the most recently started run only. Runs are never edited once a newer run
// has started. The selection cursor is purely for inspection.
package trace
