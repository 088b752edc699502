// Package chat holds the message model and the in-memory Conversation Store.
//
// # Store
//
// Store is the sole mutator of the message list for an open conversation view.
// Callers never edit a Message in place; they ask the store to replace it:
//
//	s := chat.NewStore()
//	_ = s.Append(chat.NewProvisional(chat.RoleUser, "hello", time.Now()))
//	s.ReplaceByID(id, func(m chat.Message) chat.Message {
//	    m.Content = "updated"
//	    return m
//	})
//
// ReplaceAll is used for reconciliation against the server's history and is the
// only operation that retires provisional ids in the normal flow. RemoveIDs is
// reserved for rolling back an aborted send.
//
// # Message states
//
//   - confirmed: id issued by the backend
//   - provisional: placeholder for the in-flight send
//   - unconfirmed: placeholder kept after a failed reconciliation
package chat
