// Package engine drives one conversation view: it sends messages, folds the
// streamed reply into the message list, and reconciles with the backend.
//
// # Send lifecycle
//
//	idle -> sending -> idle            success
//	idle -> sending -> failed -> idle  error
//
// Only one send runs at a time. A send started while another is in flight is
// rejected with ErrBusy and leaves the draft alone. For an accepted send:
//
//  1. The draft is cleared and any previous error dismissed.
//  2. The conversation is created if none is active yet.
//  3. A trace run starts and a provisional user/assistant pair is appended.
//  4. The message stream is opened and decoded.
//  5. chunk and status text grows the provisional reply; debug payloads go
//     to the trace run; error and done end the stream.
//  6. The backend's history replaces the local list.
//
// # Failures
//
//   - ErrLifecycleCreation: nothing was added; nothing to undo.
//   - ErrStreamTransport before the stream opened: the provisional pair is
//     removed.
//   - ErrStreamTransport or ErrStreamProtocol from the stream: history is
//     still reconciled, since the backend already has the message.
//   - ErrHistoryReconciliation: the local pair is kept and marked unconfirmed.
//
// # Cancellation
//
// Cancelling the send's context or calling Detach stops all further folds.
// Late events are dropped and no reconciliation happens.
package engine
