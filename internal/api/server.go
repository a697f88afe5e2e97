package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-crawl-dashboard/internal/backend"
	"github.com/JakeFAU/image-crawl-dashboard/internal/bundle"
	"github.com/JakeFAU/image-crawl-dashboard/internal/catalog"
	"github.com/JakeFAU/image-crawl-dashboard/internal/config"
	"github.com/JakeFAU/image-crawl-dashboard/internal/logging"
	"github.com/JakeFAU/image-crawl-dashboard/internal/metrics"
	"github.com/JakeFAU/image-crawl-dashboard/internal/realtime"
	"github.com/JakeFAU/image-crawl-dashboard/internal/views"
)

const defaultReadTimeout = 10 * time.Second

// CrawlStarter forwards crawl requests to the backend.
type CrawlStarter interface {
	StartCrawl(ctx context.Context, req backend.CrawlRequest) (backend.Response, error)
}

// BundleBuilder assembles image archives in-process.
type BundleBuilder interface {
	Build(ctx context.Context, keyword string) (*bundle.Archive, error)
}

// BundleDownloader streams archives produced by the backend.
type BundleDownloader interface {
	DownloadBundle(ctx context.Context, keyword string) (*http.Response, error)
}

// Deps are the collaborators of Server. DownloadMode selects between
// Bundles (local) and BundleProxy (proxy).
type Deps struct {
	Repo         catalog.Repository
	Views        *views.Service
	Changes      realtime.Subscriber
	Crawler      CrawlStarter
	Bundles      BundleBuilder
	BundleProxy  BundleDownloader
	DownloadMode string
	// ReadTimeout bounds repository reads; streams are not bounded.
	ReadTimeout time.Duration
	Logger      *zap.Logger
}

// Server wires HTTP handlers to the catalog, views and backend.
type Server struct {
	router   chi.Router
	deps     Deps
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) (*Server, error) {
	if deps.Repo == nil || deps.Views == nil || deps.Changes == nil {
		return nil, errors.New("repository, views and change subscriber are required")
	}
	if deps.Crawler == nil {
		return nil, errors.New("crawl starter is required")
	}
	if deps.DownloadMode == "" {
		deps.DownloadMode = config.DownloadLocal
	}
	switch deps.DownloadMode {
	case config.DownloadLocal:
		if deps.Bundles == nil {
			return nil, errors.New("bundle builder is required in local download mode")
		}
	case config.DownloadProxy:
		if deps.BundleProxy == nil {
			return nil, errors.New("bundle proxy is required in proxy download mode")
		}
	default:
		return nil, fmt.Errorf("unknown download mode %q", deps.DownloadMode)
	}
	if deps.ReadTimeout <= 0 {
		deps.ReadTimeout = defaultReadTimeout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &Server{
		deps:     deps,
		validate: newValidator(),
		logger:   deps.Logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(s.logger))
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/crawl", s.startCrawl)
		r.Get("/dashboard", s.dashboard)
		r.Route("/crawl-jobs", func(r chi.Router) {
			r.Get("/", s.crawlJobs)
			r.Delete("/{job_id}", s.deleteCrawlJob)
		})
		r.Route("/images", func(r chi.Router) {
			r.Get("/", s.images)
			r.Get("/download", s.downloadImages)
			r.Get("/{image_id}", s.imageDetail)
		})
		r.Get("/stream/{view}", s.stream)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.ReadTimeout)
	defer cancel()
	if err := s.deps.Repo.Ping(ctx); err != nil {
		logging.FromContext(r.Context(), s.logger).Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("json_number", isJSONNumber)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// isJSONNumber accepts a raw JSON number literal or null.
func isJSONNumber(fl validator.FieldLevel) bool {
	raw := bytes.TrimSpace(fl.Field().Bytes())
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return true
	}
	if raw[0] != '-' && (raw[0] < '0' || raw[0] > '9') {
		return false
	}
	var n json.Number
	return json.Unmarshal(raw, &n) == nil
}

// validationMessage turns the first validator failure into a client message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "json_number":
		return fmt.Sprintf("%s must be a number", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func parseUUIDParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s", name)
	}
	return id.String(), nil
}

func requestIDMiddleware(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if _, err := uuid.Parse(reqID); err != nil {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)
			ctx := logging.WithContext(r.Context(), base.With(zap.String("request_id", reqID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context(), nil).Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(r.Context(), nil).Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
