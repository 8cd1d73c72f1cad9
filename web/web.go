// Package web provides the JSON HTTP API of the recommendation service.
// Handlers are plain functions over request/response value objects; all
// numerical work is delegated to the app services.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/planwise/planwise/adapters/catalog"
	"github.com/planwise/planwise/adapters/metrics"
	"github.com/planwise/planwise/app"
)

// Handler serves the planwise HTTP API.
type Handler struct {
	calibration *app.CalibrationService
	recommend   *app.RecommendService
	catalog     *catalog.Store
	logger      zerolog.Logger
	metrics     *metrics.Collector
	version     string
}

// Deps contains dependencies for the web handler.
type Deps struct {
	Calibration *app.CalibrationService
	Recommend   *app.RecommendService
	Catalog     *catalog.Store
	Logger      zerolog.Logger
	Metrics     *metrics.Collector
	Version     string
}

// New creates the API handler.
func New(deps Deps) *Handler {
	return &Handler{
		calibration: deps.Calibration,
		recommend:   deps.Recommend,
		catalog:     deps.Catalog,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		version:     deps.Version,
	}
}

// Router builds the chi router with all API routes mounted.
func (h *Handler) Router(metricsEnabled bool, metricsPath string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.observe)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/calibrations", h.Calibrate)
		r.Post("/utility", h.Utility)
		r.Post("/usage/optimal", h.OptimalUsage)
		r.Post("/recommendations", h.Recommend)
		r.Get("/plans", h.Plans)
	})
	r.Get("/healthz", h.Health)
	r.Get("/version", h.Version)
	if metricsEnabled {
		r.Handle(metricsPath, promhttp.Handler())
	}
	return r
}

// observe logs every API request and records request metrics.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Health checks and metrics scrapes stay out of the logs.
		if r.URL.Path == "/healthz" || strings.HasPrefix(r.URL.Path, "/metrics") {
			return
		}

		if h.metrics != nil {
			h.metrics.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(ww.Status())).Inc()
			h.metrics.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		}
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
