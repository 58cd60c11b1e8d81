package auth

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shindakun/mockportal/internal/metrics"
	"github.com/shindakun/mockportal/internal/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ExpiringLister finds stored sessions that need a refresh
type ExpiringLister interface {
	ListExpiringAuthSessions(ctx context.Context, before time.Time, limit int) ([]storage.ExpiringSession, error)
}

// SessionCounter reports how many browsers hold tokens
type SessionCounter interface {
	CountAuthSessions(ctx context.Context) (int, error)
}

// Refresher keeps stored sessions alive in the background. A session the
// provider refuses to refresh is dropped and its screens are told it ended.
type Refresher struct {
	svc         *Service
	lister      ExpiringLister
	clock       clockwork.Clock
	interval    time.Duration
	margin      time.Duration
	concurrency int
	batchSize   int
	limiter     *rate.Limiter
	logger      *log.Logger
}

// NewRefresher creates a refresher that wakes every interval and refreshes
// sessions expiring within margin, at most concurrency at a time and at most
// ratePerSecond refresh calls per second (unlimited when not positive).
func NewRefresher(svc *Service, lister ExpiringLister, interval, margin time.Duration, concurrency, batchSize int, ratePerSecond float64, logger *log.Logger) *Refresher {
	if concurrency < 1 {
		concurrency = 1
	}
	if batchSize < 1 {
		batchSize = 100
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &Refresher{
		svc:         svc,
		lister:      lister,
		clock:       svc.clock,
		interval:    interval,
		margin:      margin,
		concurrency: concurrency,
		batchSize:   batchSize,
		limiter:     rate.NewLimiter(limit, concurrency),
		logger:      logger,
	}
}

// Run refreshes due sessions on every tick until ctx is done
func (r *Refresher) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Printf("Token refresher started (interval=%s margin=%s)", r.interval, r.margin)
	for {
		select {
		case <-ctx.Done():
			r.logger.Println("Token refresher stopped")
			return
		case <-ticker.Chan():
			if _, err := r.RefreshDue(ctx); err != nil {
				r.logger.Printf("Token refresh pass failed: %v", err)
			}
		}
	}
}

// RefreshDue runs one pass and returns how many sessions were refreshed.
// Individual refresh failures are logged; only listing errors are returned.
// When the lister can count sessions the stored-sessions gauge is updated afterwards.
func (r *Refresher) RefreshDue(ctx context.Context) (int, error) {
	due, err := r.lister.ListExpiringAuthSessions(ctx, r.clock.Now().Add(r.margin), r.batchSize)
	if err != nil {
		return 0, err
	}

	var refreshed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, item := range due {
		// The provider rate limits token refreshes per project
		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.Printf("Refresh pass cut short: %v", err)
			break
		}
		g.Go(func() error {
			session, err := r.svc.refresh(gctx, item.BrowserID, item.Session)
			if err != nil {
				r.logger.Printf("Failed to refresh session for %s: %v", item.BrowserID, err)
				if isRejection(err) {
					metrics.TokenRefreshTotal.WithLabelValues("rejected").Inc()
				} else {
					metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
				}
				return nil
			}
			if session == nil {
				// Signed out since the listing
				return nil
			}
			metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
			refreshed.Add(1)
			return nil
		})
	}

	_ = g.Wait()
	r.sampleStored(ctx)
	return int(refreshed.Load()), nil
}

func (r *Refresher) sampleStored(ctx context.Context) {
	counter, ok := r.lister.(SessionCounter)
	if !ok {
		return
	}
	n, err := counter.CountAuthSessions(ctx)
	if err != nil {
		r.logger.Printf("Failed to count stored sessions: %v", err)
		return
	}
	metrics.StoredSessions.Set(float64(n))
}
