package middleware

import (
	"net/http"

	"github.com/shindakun/mockportal/internal/config"
)

// SecurityHeaders creates middleware that adds HTTP security headers to all responses
func SecurityHeaders(cfg *config.Config) func(http.Handler) http.Handler {
	headers := cfg.Server.Security.Headers
	hsts := cfg.IsHTTPS() && headers.StrictTransportSecurity != ""

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			setIfPresent(h, "X-Frame-Options", headers.XFrameOptions)
			setIfPresent(h, "X-Content-Type-Options", headers.XContentTypeOptions)
			setIfPresent(h, "Referrer-Policy", headers.ReferrerPolicy)
			setIfPresent(h, "Content-Security-Policy", headers.ContentSecurityPolicy)

			// Strict-Transport-Security only when served over TLS
			if hsts {
				h.Set("Strict-Transport-Security", headers.StrictTransportSecurity)
			}

			// Screens carry per-user state
			h.Set("Cache-Control", "no-store")

			next.ServeHTTP(w, r)
		})
	}
}

func setIfPresent(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
