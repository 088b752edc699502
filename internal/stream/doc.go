// ABOUTME: Package stream decodes the backend's incremental reply stream
// ABOUTME: Raw SSE bytes in, typed Chunk/Status/Debug/Error/Done events out

// Package stream turns a Server-Sent Events body into typed events. The
// WebSocket transport re-frames its messages as SSE so both share one decoder.
package stream
