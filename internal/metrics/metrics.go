package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Screen Metrics
var (
	// LoginAttemptsTotal tracks credential submissions by outcome
	// (success, invalid_input, rejected, connection_error, busy)
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_login_attempts_total",
			Help: "Credential submissions by outcome",
		},
		[]string{"outcome"},
	)

	// SignOutsTotal tracks sign-out requests by outcome (success, error)
	SignOutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_signouts_total",
			Help: "Sign-out requests by outcome",
		},
		[]string{"outcome"},
	)

	// LiveScreens tracks open WebSocket screens
	LiveScreens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_live_screens",
			Help: "Number of screens mounted over a live connection",
		},
	)
)

// Provider Metrics
var (
	// TokenRefreshTotal tracks background token refreshes by outcome (success, rejected, error)
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_token_refresh_total",
			Help: "Background token refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// StoredSessions tracks browsers holding provider tokens, sampled after each refresh pass
	StoredSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_stored_sessions",
			Help: "Number of browsers holding provider tokens",
		},
	)
)
