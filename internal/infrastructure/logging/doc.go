// Package logging provides structured logging for the rules engine.
//
// It wraps log/slog so every entry carries the service and version fields,
// and so components can be tagged (component=engine, component=bridge).
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log secrets, tokens or passwords.
package logging
