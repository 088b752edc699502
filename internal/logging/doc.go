// ABOUTME: Package logging builds the slog loggers used across coven-chat
// ABOUTME: JSON output for machines, colored text for terminals

// Package logging constructs *slog.Logger values from config.LoggingConfig.
package logging
