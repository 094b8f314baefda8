// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a sane console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Every step of an update run accepts a context and extracts the logger from
// it, so diagnostics stay scoped to the run that produced them.
//
// There are no Fatal or Panic helpers. A run holds resources (run marker,
// staged firmware) that are released in deferred cleanup, and exiting from
// inside a log call would skip it; errors propagate to the CLI instead.
package logger
