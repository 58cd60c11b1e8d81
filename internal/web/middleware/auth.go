package middleware

import (
	"net/http"

	"github.com/shindakun/mockportal/internal/auth"
)

// BrowserSession makes sure every request carries a browser id and puts it in the context.
// Screens are keyed by that id; it says nothing about whether the user is signed in.
func BrowserSession(sessionManager *auth.SessionManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			browserID, err := sessionManager.BrowserID(w, r)
			if err != nil {
				http.Error(w, "Failed to establish session", http.StatusInternalServerError)
				return
			}

			ctx := auth.SetBrowserIDInContext(r.Context(), browserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
