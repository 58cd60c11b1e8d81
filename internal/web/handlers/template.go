package handlers

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/csrf"
	"github.com/shindakun/mockportal/internal/models"
	"github.com/shindakun/mockportal/internal/portal"
	"github.com/shindakun/mockportal/internal/version"
)

// TemplateData holds common data passed to templates
type TemplateData struct {
	Title     string
	View      string // loading, dashboard or login
	User      *models.User
	ExpiresAt time.Time
	Form      models.FormState
	Notice    string // Dashboard-level error
	Tests     []models.MockTest
	Version   string // Application version

	CSRFToken     string // CSRF token for forms and HTMX requests
	CSRFFieldName string
}

// templateFuncs returns custom template functions
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"humanizeTime": humanize.Time,
	}
}

// templateSet holds one parsed tree per page plus the shared partials
type templateSet struct {
	pages    map[string]*template.Template
	partials *template.Template
}

// parseTemplates parses every page with the base layout and all partials
func parseTemplates(fsys fs.FS) (*templateSet, error) {
	const (
		layout   = "templates/layouts/base.html"
		partials = "templates/partials/*.html"
	)

	shared, err := template.New("").Funcs(templateFuncs()).ParseFS(fsys, partials)
	if err != nil {
		return nil, fmt.Errorf("failed to parse partials: %w", err)
	}

	pageFiles, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	set := &templateSet{pages: make(map[string]*template.Template), partials: shared}
	for _, file := range pageFiles {
		tmpl, err := template.New("").Funcs(templateFuncs()).ParseFS(fsys, layout, file, partials)
		if err != nil {
			return nil, fmt.Errorf("failed to parse page %s: %w", file, err)
		}
		set.pages[strings.TrimSuffix(path.Base(file), ".html")] = tmpl
	}

	return set, nil
}

// screenData builds the template data for a tracker snapshot.
// The typed password is rendered back only when keepPassword is set.
func (h *Handlers) screenData(r *http.Request, state portal.State, keepPassword bool) TemplateData {
	data := TemplateData{
		View:   state.View().String(),
		Form:   state.Form,
		Notice: state.Notice,
	}
	if !keepPassword {
		data.Form.Password = ""
	}
	if state.Session != nil {
		user := state.Session.User()
		data.User = &user
		data.ExpiresAt = state.Session.ExpiresAt
	}
	h.addCommon(r, &data)
	return data
}

func (h *Handlers) addCommon(r *http.Request, data *TemplateData) {
	data.Title = h.portal.Title
	data.Tests = h.portal.Tests
	data.Version = version.GetVersion()
	data.CSRFToken = csrf.Token(r)
	data.CSRFFieldName = h.csrfFieldName
}

// renderTemplate renders a page with the base layout
func (h *Handlers) renderTemplate(w io.Writer, page string, data TemplateData) error {
	tmpl, ok := h.templates.pages[page]
	if !ok {
		return fmt.Errorf("unknown page %q", page)
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}

// renderPartial renders a partial template (for HTMX and live pushes)
func (h *Handlers) renderPartial(w io.Writer, partialName string, data TemplateData) error {
	return h.templates.partials.ExecuteTemplate(w, partialName, data)
}
