package middleware

import (
	"net/http"

	"github.com/gorilla/csrf"
)

// CSRFProtection creates a CSRF protection middleware using gorilla/csrf.
// Over plain HTTP (local development) requests are marked plaintext so the
// Referer check meant for TLS does not reject them.
func CSRFProtection(secret []byte, secure bool, fieldName string) func(http.Handler) http.Handler {
	if fieldName == "" {
		fieldName = "csrf_token"
	}

	csrfMiddleware := csrf.Protect(
		secret,
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.FieldName(fieldName),
		csrf.RequestHeader("X-CSRF-Token"), // For HTMX requests
		csrf.ErrorHandler(http.HandlerFunc(CSRFFailureHandler)),
	)

	return func(next http.Handler) http.Handler {
		protected := csrfMiddleware(next)
		if secure {
			return protected
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			protected.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}

// CSRFFailureHandler provides HTMX-aware error handling for CSRF failures
func CSRFFailureHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") == "true" {
		// HTMX request - return HTML fragment with proper status
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<div class="error" role="alert">
			<strong>Security Error:</strong> Your session has expired or the security token is invalid.
			Please <a href="/">reload the page</a> and try again.
		</div>`))
		return
	}

	http.Error(w, "CSRF token validation failed. Please refresh the page and try again.", http.StatusForbidden)
}
