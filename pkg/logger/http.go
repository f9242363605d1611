package logger

import (
	"log/slog"
	"time"
)

// HTTPLogger writes one structured line per HTTP request. It exists so the
// request log survives with a stable shape independent of the application
// log level.
type HTTPLogger struct {
	log *slog.Logger
}

// NewHTTPLogger creates an HTTPLogger on top of the root logger.
func NewHTTPLogger(log *slog.Logger) *HTTPLogger {
	return &HTTPLogger{log: log.With(Scope("http"))}
}

// LogRequest records a completed HTTP request.
func (h *HTTPLogger) LogRequest(ip, method, uri string, status int, latency time.Duration, userAgent, requestID string) {
	h.log.Debug("http request",
		slog.String("ip", ip),
		slog.String("method", method),
		slog.String("uri", uri),
		slog.Int("status", status),
		slog.Duration("latency", latency),
		slog.String("user_agent", userAgent),
		slog.String("request_id", requestID),
	)
}
