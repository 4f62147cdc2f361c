package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
)

type requestLogKey struct{}

// requestLog accumulates attributes that handlers attach while serving one
// request. Stream handlers may add them after the first write.
type requestLog struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

func (l *requestLog) add(attr slog.Attr) {
	l.mu.Lock()
	l.attrs = append(l.attrs, attr)
	l.mu.Unlock()
}

// LoggingMiddleware writes one line per request once the handler returns,
// including the route pattern, status and anything added via AddLogAttr.
// Server errors are logged at warn.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rl := &requestLog{}
			sw := &statusWriter{ResponseWriter: w}

			ctx := context.WithValue(r.Context(), requestLogKey{}, rl)
			next.ServeHTTP(sw, r.WithContext(ctx))

			route := r.URL.Path
			if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}

			rl.mu.Lock()
			attrs := append([]slog.Attr{
				slog.String("request_id", GetRequestID(ctx)),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", sw.Status()),
				slog.Int64("bytes", sw.bytes),
				slog.Duration("duration", time.Since(start)),
			}, rl.attrs...)
			rl.mu.Unlock()

			level := slog.LevelInfo
			if sw.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.LogAttrs(ctx, level, "http request", attrs...)
		})
	}
}

// statusWriter records the status and body size. It passes Flush through so
// SSE responses reach the client event by event.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

// Status returns the written status, or 200 when the handler never wrote a
// header explicitly.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AddLogAttr attaches attr to the request's log line. Outside
// LoggingMiddleware it does nothing.
func AddLogAttr(ctx context.Context, attr slog.Attr) {
	if rl, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		rl.add(attr)
	}
}

// AddLogField is AddLogAttr for a non-empty string value.
func AddLogField(ctx context.Context, key, value string) {
	if value != "" {
		AddLogAttr(ctx, slog.String(key, value))
	}
}

// AddError records err and its error type on the request's log line.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddLogAttr(ctx, slog.String("error", err.Error()))
	AddLogAttr(ctx, slog.String("error_type", domain.ErrorType(err)))
}
