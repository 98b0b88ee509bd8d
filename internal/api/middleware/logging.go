// logging.go — access-лог HTTP-запросов через slog.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// quietRoutes — маршруты, которые опрашиваются автоматически
// (kubelet, Prometheus). Успешные ответы пишутся на уровне DEBUG.
var quietRoutes = map[string]bool{
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// accessLogWriter запоминает статус и число записанных байт.
type accessLogWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (aw *accessLogWriter) WriteHeader(code int) {
	aw.status = code
	aw.ResponseWriter.WriteHeader(code)
}

func (aw *accessLogWriter) Write(b []byte) (int, error) {
	n, err := aw.ResponseWriter.Write(b)
	aw.bytes += int64(n)
	return n, err
}

func (aw *accessLogWriter) Unwrap() http.ResponseWriter {
	return aw.ResponseWriter
}

// RequestLogger пишет одну строку лога на запрос.
// 5xx — ERROR, 4xx — WARN, остальное — INFO (DEBUG для quietRoutes).
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			aw := &accessLogWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(aw, r)

			route := routePattern(r)
			level := accessLogLevel(aw.status, route)
			if !logger.Enabled(r.Context(), level) {
				return
			}

			logger.LogAttrs(r.Context(), level, "HTTP запрос",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("bytes", aw.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

func accessLogLevel(status int, route string) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case quietRoutes[route]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
