// Package conversation manages the identity of the active conversation and
// fans out view updates to interested readers.
//
// # Lifecycle
//
// Manager decides whether a conversation has to be created before a send.
// With an active id, Ensure is a no-op; without one it asks the backend to
// create a conversation titled after the first message:
//
//	mgr := conversation.NewManager(backend, 50, logger)
//	id, err := mgr.EnsureActive(ctx, "How do I price my course?")
//
// Titles are derived by collapsing whitespace and cutting to the configured
// length with a trailing "...".
//
// Listeners registered with OnAssigned learn about new ids so that history
// loads, uploads and later sends address the right conversation.
//
// # Broadcaster
//
// Broadcaster delivers Update snapshots to subscribers. Publish never blocks;
// a subscriber that falls behind skips snapshots and catches up on the next one.
package conversation
