// Package web holds the screen's templates and static assets.
package web

import "embed"

// Templates contains layouts, pages and partials
//
//go:embed templates
var Templates embed.FS

// Static contains stylesheets served under /static/
//
//go:embed static
var Static embed.FS
