package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/gematik/zero-dash/pkg/analytics"
	"github.com/labstack/echo/v4"
)

var (
	//go:embed templates/*.html
	templatesFS embed.FS
)

const (
	pageLanding   = "landing"
	pageLogin     = "login"
	pageSignUp    = "signup"
	pageHome      = "home"
	pageProfile   = "profile"
	pageAnalytics = "analytics"
	pageLoading   = "loading"
	pageError     = "error"
)

var templateFuncs = template.FuncMap{
	"count":   analytics.FormatCount,
	"seconds": analytics.FormatSeconds,
}

// viewData is the model of every page.
type viewData struct {
	Title       string
	Nonce       string
	Error       string
	Message     string
	Username    string
	Email       string
	Destination string
	Confirm     bool
	Report      *analytics.Report
}

// renderer parses every page together with the layout once at startup.
type renderer struct {
	pages map[string]*template.Template
}

func newRenderer() *renderer {
	r := &renderer{pages: make(map[string]*template.Template)}
	for _, name := range []string{pageLanding, pageLogin, pageSignUp, pageHome, pageProfile, pageAnalytics, pageLoading, pageError} {
		r.pages[name] = template.Must(
			template.New(name).Funcs(templateFuncs).ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html"),
		)
	}
	return r
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	page, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page: %s", name)
	}
	return page.ExecuteTemplate(w, "layout", data)
}
