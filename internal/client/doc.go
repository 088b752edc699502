// Package client implements the backend collaborators used by the engine.
//
// # Overview
//
// Client is a thin HTTP client for the assistant backend's chat API. Every
// request carries the configured bearer token; JWTs that are already expired
// are rejected locally before any bytes go out.
//
// # Endpoints
//
//   - POST   /api/chats                   CreateConversation
//   - GET    /api/chats                   ListConversations
//   - PATCH  /api/chats/{id}/title        RenameConversation
//   - DELETE /api/chats/{id}              DeleteConversation
//   - GET    /api/chats/{id}/messages     ListMessages
//   - GET    /api/chats/{id}/analysis     GetConversationAnalysis
//   - POST   /api/chats/{id}/stream       OpenMessageStream (SSE)
//   - GET    /api/chats/{id}/ws           OpenMessageStream (WebSocket)
//
// # Streams
//
// OpenMessageStream returns the raw response body. With the WebSocket
// transport each frame is re-wrapped as an SSE data frame, so the same
// stream.Decoder reads both:
//
//	body, err := c.OpenMessageStream(ctx, id, "hello", chat.SendOptions{})
//	if err != nil {
//	    return err
//	}
//	dec := stream.NewDecoder(body, logger)
//	defer dec.Close()
//
// # Errors
//
// Non-2xx answers come back as *StatusError, which matches ErrNotFound and
// ErrUnauthorized with errors.Is.
package client
