// Package logging provides structured logging for DDMS Core.
//
// It wraps log/slog with configuration-driven level filtering, JSON or text
// output, and default service/version attributes on every record.
package logging
