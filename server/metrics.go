package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cropscan/ergot-detector/storage"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	predictions     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, model ModelStatus, uploads *storage.UploadStore) (*metrics, error) {
	m := &metrics{
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"path", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"path"},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ergot_predictions_total",
				Help: "Completed predictions by label",
			}, []string{"label"},
		),
	}

	collectors := []prometheus.Collector{m.requestCount, m.requestDuration, m.predictions}
	collectors = append(collectors, prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ergot_upload_free_bytes",
			Help: "Free space available to the upload directory",
		},
		func() float64 {
			free, err := uploads.FreeBytes()
			if err != nil {
				return -1
			}
			return float64(free)
		},
	))
	if model != nil {
		collectors = append(collectors,
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "ergot_model_loaded",
					Help: "1 when a model occupies the cache slot",
				},
				func() float64 {
					if model.Loaded() {
						return 1
					}
					return 0
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "ergot_model_sessions_in_use",
					Help: "Model sessions currently serving a request",
				},
				func() float64 {
					stats, _ := model.Stats()
					return float64(stats.InUse)
				},
			),
		)
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		m.requestCount.WithLabelValues(path, r.Method, fmt.Sprintf("%d", lrw.statusCode)).Inc()
		m.requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
