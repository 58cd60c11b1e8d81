package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/shindakun/mockportal/internal/auth"
	"github.com/shindakun/mockportal/internal/config"
	"github.com/shindakun/mockportal/internal/metrics"
	"github.com/shindakun/mockportal/internal/models"
	"github.com/shindakun/mockportal/internal/portal"
	"github.com/shindakun/mockportal/internal/version"
	"github.com/shindakun/mockportal/internal/web"
)

// Pinger reports whether the token store is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers holds dependencies for HTTP handlers
type Handlers struct {
	sessionManager *auth.SessionManager
	authService    *auth.Service
	db             Pinger
	portal         config.PortalConfig
	csrfFieldName  string
	templates      *templateSet
	static         fs.FS
	upgrader       websocket.Upgrader
	clock          clockwork.Clock
	logger         *log.Logger
}

// New creates a new Handlers instance
func New(sessionManager *auth.SessionManager, authService *auth.Service, db Pinger, cfg *config.Config, logger *log.Logger) (*Handlers, error) {
	templates, err := parseTemplates(web.Templates)
	if err != nil {
		return nil, err
	}

	static, err := fs.Sub(web.Static, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to open static assets: %w", err)
	}

	return &Handlers{
		sessionManager: sessionManager,
		authService:    authService,
		db:             db,
		portal:         cfg.Portal,
		csrfFieldName:  cfg.Server.Security.CSRFFieldName,
		templates:      templates,
		static:         static,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}, nil
}

// newTracker creates an unmounted screen for the requesting browser
func (h *Handlers) newTracker(w http.ResponseWriter, r *http.Request, form models.FormState) (*portal.Tracker, error) {
	browserID, ok := auth.GetBrowserIDFromContext(r.Context())
	if !ok {
		id, err := h.sessionManager.BrowserID(w, r)
		if err != nil {
			return nil, err
		}
		browserID = id
	}
	return portal.NewTracker(h.authService.ForBrowser(browserID), h.logger, form), nil
}

// mount creates and starts a screen for the length of one request
func (h *Handlers) mount(w http.ResponseWriter, r *http.Request, form models.FormState) (*portal.Tracker, bool) {
	tracker, err := h.newTracker(w, r, form)
	if err != nil {
		h.logger.Printf("Failed to establish browser session: %v", err)
		http.Error(w, "Failed to establish session", http.StatusInternalServerError)
		return nil, false
	}
	tracker.Start(r.Context())
	return tracker, true
}

// waitBriefly gives the initial session fetch up to portal.init_wait to settle
func (h *Handlers) waitBriefly(ctx context.Context, tracker *portal.Tracker) {
	ctx, cancel := context.WithTimeout(ctx, h.portal.InitWait)
	defer cancel()
	tracker.Wait(ctx)
}

// respond writes the view fragment for HTMX requests and the full screen otherwise
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, data TemplateData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var err error
	if r.Header.Get("HX-Request") == "true" {
		err = h.renderPartial(w, "view", data)
	} else {
		err = h.renderTemplate(w, "screen", data)
	}
	if err != nil {
		h.logger.Printf("Error rendering %s view: %v", data.View, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handlers) defaultForm() models.FormState {
	return models.FormState{Email: h.portal.DefaultEmail}
}

// Screen renders the full page for the current view
func (h *Handlers) Screen(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.mount(w, r, h.defaultForm())
	if !ok {
		return
	}
	defer tracker.Close()

	h.waitBriefly(r.Context(), tracker)

	data := h.screenData(r, tracker.State(), false)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderTemplate(w, "screen", data); err != nil {
		h.logger.Printf("Error rendering screen template: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// View renders the current view as a fragment. The loading view polls it.
func (h *Handlers) View(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.mount(w, r, h.defaultForm())
	if !ok {
		return
	}
	defer tracker.Close()

	h.waitBriefly(r.Context(), tracker)

	data := h.screenData(r, tracker.State(), false)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderPartial(w, "view", data); err != nil {
		h.logger.Printf("Error rendering view partial: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Login submits the credentials and re-renders the form or the dashboard
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Printf("Failed to parse form: %v", err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	form := models.FormState{Email: email, ShowPassword: r.FormValue("show_password") != ""}

	tracker, ok := h.mount(w, r, form)
	if !ok {
		return
	}
	defer tracker.Close()

	// The form is only offered once initialization is over
	if !tracker.Wait(r.Context()) {
		return
	}

	state := tracker.State()
	if state.Authenticated() {
		// Signed in elsewhere in the meantime
		h.respond(w, r, h.screenData(r, state, false))
		return
	}

	state, err := tracker.Submit(r.Context(), email, password)
	metrics.LoginAttemptsTotal.WithLabelValues(loginOutcome(email, password, state, err)).Inc()
	if errors.Is(err, portal.ErrSubmitInProgress) {
		http.Error(w, "Sign-in already in progress", http.StatusConflict)
		return
	}

	h.respond(w, r, h.screenData(r, state, false))
}

// loginOutcome classifies a submission for metrics
func loginOutcome(email, password string, state portal.State, err error) string {
	switch {
	case errors.Is(err, portal.ErrSubmitInProgress):
		return "busy"
	case state.Authenticated():
		return "success"
	case portal.ValidateCredentials(email, password) != "":
		return "invalid_input"
	case state.Form.Error == portal.MsgConnection:
		return "connection_error"
	default:
		return "rejected"
	}
}

// LoginVisibility toggles the password field between hidden and plain text
func (h *Handlers) LoginVisibility(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Printf("Failed to parse form: %v", err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	email := r.FormValue("email")
	form := models.FormState{
		Email:        email,
		Password:     r.FormValue("password"),
		ShowPassword: r.FormValue("show_password") != "",
	}

	tracker, ok := h.mount(w, r, form)
	if !ok {
		return
	}
	defer tracker.Close()

	if !tracker.Wait(r.Context()) {
		return
	}

	state := tracker.TogglePasswordVisibility(email)
	h.respond(w, r, h.screenData(r, state, true))
}

// Logout signs out with the provider and renders the resulting view
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.mount(w, r, h.defaultForm())
	if !ok {
		return
	}
	defer tracker.Close()

	if !tracker.Wait(r.Context()) {
		return
	}

	state := tracker.State()
	if state.Authenticated() {
		state = tracker.SignOut(r.Context())
		outcome := "success"
		if state.Notice != "" {
			outcome = "error"
		}
		metrics.SignOutsTotal.WithLabelValues(outcome).Inc()
	}

	h.respond(w, r, h.screenData(r, state, false))
}

// Healthz reports liveness and token store reachability
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok", "version": version.GetVersion()}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Printf("Health check failed: %v", err)
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Printf("Failed to encode health response: %v", err)
	}
}

// ServeStatic serves embedded static files
func (h *Handlers) ServeStatic(w http.ResponseWriter, r *http.Request) {
	// Remove /static prefix
	name := strings.TrimPrefix(r.URL.Path, "/static/")
	if name == "" || strings.HasSuffix(name, "/") {
		http.NotFound(w, r)
		return
	}

	// Static assets are not per-user
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFileFS(w, r, h.static, name)
}

// NotFound renders the 404 error page
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	var data TemplateData
	h.addCommon(r, &data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if err := h.renderTemplate(w, "404", data); err != nil {
		h.logger.Printf("Error rendering 404 template: %v", err)
	}
}
