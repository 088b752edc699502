// Package auth handles bearer tokens for coven-chat.
//
// # Client side
//
// Discover resolves the token to send with every backend request:
//
//  1. Explicit value from configuration (backend.token)
//  2. COVEN_TOKEN environment variable
//  3. Token file (backend.token_file, default ~/.config/coven/token)
//
// CheckExpiry reads the exp claim of a JWT without verifying it, so an expired
// session is reported before a request is made. Opaque tokens pass through.
//
// # Server side
//
// JWTVerifier and HTTPAuthMiddleware verify HS256 tokens. They back the fake
// backend used for local runs and end-to-end tests.
package auth
