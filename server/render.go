package server

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"

	"github.com/cropscan/ergot-detector/i18n"
	"github.com/cropscan/ergot-detector/models"
)

var pageNames = []string{
	"index",
	"about_ergot",
	"identify",
	"faq",
	"official_insights",
	"contact",
	"results_healthy",
	"ergot_detected",
	"error",
}

type renderer struct {
	pages map[string]*template.Template
}

func newRenderer(fsys fs.FS) (*renderer, error) {
	r := &renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.ParseFS(fsys, "layout.html", name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// page is the data every template renders with.
type page struct {
	Lang      string
	Languages []Language
	Result    *models.ClassificationResult
	Status    string

	catalog *i18n.Catalog
}

// T translates a message id into the page language.
func (p page) T(id string) string {
	return p.catalog.Translate(p.Lang, id, nil)
}

func (s *Server) newPage(r *http.Request) page {
	return page{
		Lang:      s.language(r),
		Languages: s.languages,
		catalog:   s.catalog,
	}
}

func (s *Server) render(w http.ResponseWriter, name string, status int, data page) {
	t, ok := s.pages.pages[name]
	if !ok {
		log.Printf("Unknown template %q", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("Render %s: %v", name, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int) {
	p := s.newPage(r)
	p.Status = fmt.Sprintf("%d %s", status, http.StatusText(status))
	s.render(w, "error", status, p)
}
