// Package server exposes the detector over HTTP: the informational pages,
// the upload form, the two result views and a small JSON API.
package server

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/cropscan/ergot-detector/assets"
	"github.com/cropscan/ergot-detector/classifier"
	"github.com/cropscan/ergot-detector/i18n"
	"github.com/cropscan/ergot-detector/models"
	"github.com/cropscan/ergot-detector/predictor"
	"github.com/cropscan/ergot-detector/storage"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	viewHealthy = "/results_healthy"
	viewErgot   = "/ergot_detected"
)

// staticPages are plain template renders.
var staticPages = map[string]string{
	"/":                  "index",
	"/about_ergot":       "about_ergot",
	"/identify":          "identify",
	"/faq":               "faq",
	"/official_insights": "official_insights",
	"/contact":           "contact",
}

type Language struct {
	Code string
	Name string
}

// ModelStatus is implemented by classifier.Cache.
type ModelStatus interface {
	Loaded() bool
	Policy() classifier.Policy
	Stats() (classifier.PoolStats, bool)
}

type Options struct {
	Predictor      *predictor.Service
	Results        *storage.ResultStore
	Uploads        *storage.UploadStore
	Catalog        *i18n.Catalog
	Sessions       sessions.Store
	Languages      []Language
	MaxUploadBytes int64
	Model          ModelStatus
	// Registry receives the server's collectors; nil means a fresh registry.
	Registry *prometheus.Registry
	// Templates and Static default to the embedded assets.
	Templates fs.FS
	Static    fs.FS
}

type Server struct {
	predictor      *predictor.Service
	results        *storage.ResultStore
	uploads        *storage.UploadStore
	catalog        *i18n.Catalog
	sessions       sessions.Store
	languages      []Language
	maxUploadBytes int64
	model          ModelStatus
	pages          *renderer
	metrics        *metrics
	router         *mux.Router
}

func New(opts Options) (*Server, error) {
	if opts.Predictor == nil || opts.Results == nil || opts.Uploads == nil || opts.Catalog == nil || opts.Sessions == nil {
		return nil, errors.New("server: predictor, results, uploads, catalog and sessions are required")
	}
	if len(opts.Languages) == 0 {
		return nil, errors.New("server: at least one language is required")
	}
	if opts.Templates == nil {
		opts.Templates = assets.Templates()
	}
	if opts.Static == nil {
		opts.Static = assets.Static()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}

	pages, err := newRenderer(opts.Templates)
	if err != nil {
		return nil, err
	}

	s := &Server{
		predictor:      opts.Predictor,
		results:        opts.Results,
		uploads:        opts.Uploads,
		catalog:        opts.Catalog,
		sessions:       opts.Sessions,
		languages:      opts.Languages,
		maxUploadBytes: opts.MaxUploadBytes,
		model:          opts.Model,
		pages:          pages,
	}
	s.metrics, err = newMetrics(opts.Registry, opts.Model, opts.Uploads)
	if err != nil {
		return nil, err
	}
	s.router = s.routes(opts.Registry, opts.Static)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(reg *prometheus.Registry, static fs.FS) *mux.Router {
	r := mux.NewRouter()
	r.Use(s.metrics.middleware)

	for route, name := range staticPages {
		r.HandleFunc(route, s.handlePage(name)).Methods("GET")
	}
	r.HandleFunc("/language/{language}", s.handleSetLanguage).Methods("GET")
	r.HandleFunc("/predict", s.handlePredict).Methods("POST")
	r.HandleFunc(viewHealthy, s.handleResult("results_healthy")).Methods("GET")
	r.HandleFunc(viewErgot, s.handleResult("ergot_detected")).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(enableCORS)
	api.HandleFunc("/predict", s.handleAPIPredict).Methods("POST", "OPTIONS")

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	r.PathPrefix("/static/uploads/").Handler(
		http.StripPrefix("/static/uploads/", noDirListing(uploadHeaders(http.FileServer(http.Dir(s.uploads.Dir()))))))
	r.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", noDirListing(http.FileServer(http.FS(static)))))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, http.StatusNotFound)
	})
	return r
}

// viewFor returns the result route bound to a label.
func viewFor(label models.Label) string {
	if label.Healthy() {
		return viewHealthy
	}
	return viewErgot
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || r.URL.Path[len(r.URL.Path)-1] == '/' {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// uploadHeaders keeps visitor files from running as active content on this
// origin: only known image types are served inline, everything else is an
// attachment.
func uploadHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'; sandbox")
		if ctype, ok := imageTypes[strings.ToLower(path.Ext(r.URL.Path))]; ok {
			h.Set("Content-Type", ctype)
		} else {
			h.Set("Content-Type", "application/octet-stream")
			h.Set("Content-Disposition", "attachment")
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
