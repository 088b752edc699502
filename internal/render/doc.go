// ABOUTME: Package render turns markdown into styled terminal text
// ABOUTME: Used for conversation history and embedded help pages

// Package render converts markdown to plain terminal text with ANSI styling.
// Styling follows fatih/color, so it disappears when color is disabled.
package render
