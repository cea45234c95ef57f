// Package logging provides structured logging for mqttsession.
//
// It wraps log/slog with JSON or text output, level filtering and default
// fields (service, version) on every entry. *Logger satisfies the
// session.Logger interface, so the session manager narrates connects,
// rejections, subscriptions and disconnects through it.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker passwords or InfluxDB tokens.
package logging
