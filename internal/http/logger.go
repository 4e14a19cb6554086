package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger is a chi LogFormatter that writes one access record per
// request through slog, so level and format follow the daemon's logging
// setup.
type requestLogger struct {
	log *slog.Logger
}

func (l requestLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestEntry{ctx: r.Context(), log: l.log.With(
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
	)}
}

type requestEntry struct {
	ctx context.Context
	log *slog.Logger
}

func (e *requestEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}
	e.log.Log(e.ctx, level, "request",
		"status", status,
		"bytes", bytes,
		"elapsed", elapsed,
	)
}

func (e *requestEntry) Panic(v interface{}, stack []byte) {
	e.log.Error("request panicked", "panic", fmt.Sprint(v), "stack", string(stack))
}
