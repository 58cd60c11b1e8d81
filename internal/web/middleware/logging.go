package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/shindakun/mockportal/internal/auth"
)

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and browser id
func LoggingMiddleware(logger *log.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The browser id is set by an inner middleware, so read it from the request it saw
			var inner *http.Request
			m := httpsnoop.CaptureMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inner = r
				next.ServeHTTP(w, r)
			}), w, r)

			browser := "-"
			if inner != nil {
				if id, ok := auth.GetBrowserIDFromContext(inner.Context()); ok {
					browser = id
				}
			}

			logger.Println(FormatLogEntry(r.Method, r.URL.Path, m.Code, m.Duration, browser) + fmt.Sprintf(" bytes=%d", m.Written))
		})
	}
}

// FormatLogEntry formats a consistent log entry
func FormatLogEntry(method, path string, status int, duration time.Duration, browser string) string {
	return fmt.Sprintf(
		"method=%s path=%s status=%d duration=%s browser=%s",
		method,
		path,
		status,
		duration.Round(time.Millisecond),
		browser,
	)
}
