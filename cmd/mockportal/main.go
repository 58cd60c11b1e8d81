package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shindakun/mockportal/internal/auth"
	"github.com/shindakun/mockportal/internal/config"
	"github.com/shindakun/mockportal/internal/provider"
	"github.com/shindakun/mockportal/internal/storage"
	"github.com/shindakun/mockportal/internal/version"
	"github.com/shindakun/mockportal/internal/web/handlers"
	webmiddleware "github.com/shindakun/mockportal/internal/web/middleware"
)

// tokenStore is what the service, the refresher and the health check need from storage
type tokenStore interface {
	auth.TokenStore
	auth.ExpiringLister
	auth.SessionCounter
	handlers.Pinger
}

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "[mockportal] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("Starting mock test portal %s...", version.GetFullVersion())

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Println("Configuration loaded successfully")

	// Token store and session change notifications. Several instances need
	// both in Redis; a single instance keeps tokens in SQLite.
	var (
		store    tokenStore
		notifier auth.Notifier
	)
	if cfg.Notify.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.Notify.RedisURL)
		if err != nil {
			logger.Fatalf("Invalid notify.redis_url: %v", err)
		}
		rdb := goredis.NewClient(opts)
		defer rdb.Close()

		connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(connectCtx).Err()
		if err != nil {
			connectCancel()
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		redisNotifier, err := auth.NewRedisNotifier(connectCtx, rdb, logger)
		connectCancel()
		if err != nil {
			logger.Fatalf("Failed to start session notifications: %v", err)
		}
		defer redisNotifier.Close()

		store = storage.NewRedisSessionStore(rdb)
		notifier = redisNotifier
		logger.Printf("Token store and session notifications in Redis at %s", opts.Addr)
	} else {
		logger.Printf("Initializing token store at: %s", cfg.Storage.DBPath)
		db, err := storage.InitDB(cfg.Storage.DBPath)
		if err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		store = storage.NewSessionStore(db)
		notifier = auth.NewHub()
		logger.Println("Database initialized successfully")
	}

	// Hosted auth provider
	api := provider.NewClient(cfg.Provider.URL, cfg.Provider.AnonKey, cfg.Provider.RequestTimeout)
	clock := clockwork.NewRealClock()
	authService := auth.NewService(api, store, notifier, clock, cfg.Refresh.Margin, logger)
	logger.Printf("Auth provider: %s", cfg.Provider.URL)

	// Initialize session manager
	sessionManager := auth.InitSessions(cfg.Session.Secret, cfg.Session.MaxAge, cfg.CookieSecure(), cfg.CookieSameSite())
	logger.Println("Session manager initialized")

	// Background token refresher
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	refresher := auth.NewRefresher(authService, store, cfg.Refresh.Interval, cfg.Refresh.Margin, cfg.Refresh.Concurrency, cfg.Refresh.BatchSize, cfg.Refresh.RatePerSecond, logger)
	refresherDone := make(chan struct{})
	go func() {
		defer close(refresherDone)
		refresher.Run(ctx)
	}()

	// Initialize handlers
	h, err := handlers.New(sessionManager, authService, store, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize handlers: %v", err)
	}

	// Initialize router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(webmiddleware.LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(webmiddleware.SecurityHeaders(cfg))

	// These routes carry no browser state
	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/static/*", h.ServeStatic)

	// Screen routes
	r.Group(func(r chi.Router) {
		r.Use(webmiddleware.MaxBytesMiddleware(cfg.Server.Security.MaxRequestBytes))
		if cfg.Server.Security.CSRFEnabled {
			r.Use(webmiddleware.CSRFProtection([]byte(cfg.Session.Secret), cfg.IsHTTPS(), cfg.Server.Security.CSRFFieldName))
			logger.Println("CSRF protection enabled")
		}
		r.Use(webmiddleware.BrowserSession(sessionManager))

		// The live screen stays open for as long as the tab does
		r.Get("/live", h.Live)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/", h.Screen)
			r.Get("/view", h.View)
			r.Post("/login", h.Login)
			r.Post("/login/visibility", h.LoginVisibility)
			r.Post("/logout", h.Logout)
		})
	})

	// 404 handler (must be last)
	r.NotFound(h.NotFound)

	// HTTP server configuration
	srv := &http.Server{
		Addr:         cfg.GetAddr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Printf("Server starting on %s", cfg.GetBaseURL())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("Server shutting down...")
	stop()
	<-refresherDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Println("Server exited successfully")
}
