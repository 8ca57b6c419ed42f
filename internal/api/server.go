// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/econ-series-crawler/internal/config"
	"github.com/JakeFAU/econ-series-crawler/internal/crawler"
	"github.com/JakeFAU/econ-series-crawler/internal/metrics"
	"github.com/JakeFAU/econ-series-crawler/internal/queue"
	"github.com/JakeFAU/econ-series-crawler/internal/scheduler"
)

// Queue is the queue surface the API drives.
type Queue interface {
	Enqueue(ctx context.Context, in crawler.NewQueueItem) (crawler.QueueItem, error)
	Get(ctx context.Context, id string) (crawler.QueueItem, error)
	Cancel(ctx context.Context, id string) error
	Statistics(ctx context.Context) (crawler.QueueStatistics, error)
}

// Catalog reads series and their attempt history.
type Catalog interface {
	Ping(ctx context.Context) error
	GetSeries(ctx context.Context, id string) (crawler.CatalogSeries, error)
	ListAttemptsSince(ctx context.Context, seriesID string, since time.Time) ([]crawler.CrawlAttempt, error)
}

// Reports holds the most recent scheduler report.
type Reports struct {
	mu     sync.RWMutex
	latest *scheduler.CrawlingReport
}

// Record stores r as the latest report; it matches scheduler.WithReportHook.
func (r *Reports) Record(report scheduler.CrawlingReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = &report
}

// Latest returns the latest report, if any.
func (r *Reports) Latest() (scheduler.CrawlingReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return scheduler.CrawlingReport{}, false
	}
	return *r.latest, true
}

// Server wires HTTP handlers to the queue and catalogue.
type Server struct {
	router  chi.Router
	queue   Queue
	catalog Catalog
	reports *Reports
	clock   crawler.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	q Queue,
	catalog Catalog,
	reports *Reports,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if reports == nil {
		reports = &Reports{}
	}
	s := &Server{
		queue:   q,
		catalog: catalog,
		reports: reports,
		clock:   clock,
		logger:  logger.Named("api"),
	}
	timeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/queue", func(r chi.Router) {
			r.Post("/", s.enqueue)
			r.Get("/stats", s.queueStats)
			r.Get("/{item_id}", s.getQueueItem)
			r.Post("/{item_id}/cancel", s.cancelQueueItem)
		})
		r.Get("/series/{series_id}/stats", s.seriesStats)
		r.Get("/reports/latest", s.latestReport)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.catalog.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type enqueueRequest struct {
	Source           string     `json:"source"`
	ExternalSeriesID string     `json:"external_series_id"`
	SeriesID         *string    `json:"series_id"`
	Priority         *int       `json:"priority"`
	MaxRetries       *int       `json:"max_retries"`
	ScheduledFor     *time.Time `json:"scheduled_for"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	in := crawler.NewQueueItem{
		Source:           req.Source,
		ExternalSeriesID: req.ExternalSeriesID,
		SeriesID:         req.SeriesID,
		Priority:         crawler.PriorityNormal,
		MaxRetries:       req.MaxRetries,
		ScheduledFor:     req.ScheduledFor,
	}
	if req.Priority != nil {
		in.Priority = crawler.QueuePriority(*req.Priority)
	}
	item, err := s.queue.Enqueue(r.Context(), in)
	if errors.Is(err, queue.ErrInvalidQueueItem) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Statistics(r.Context())
	if err != nil {
		s.logger.Error("queue statistics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load queue statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.queue.Get(r.Context(), chi.URLParam(r, "item_id"))
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load queue item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) cancelQueueItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "item_id")
	err := s.queue.Cancel(r.Context(), id)
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(crawler.QueueStatusCancelled)})
}

func (s *Server) seriesStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "series_id")
	if _, err := s.catalog.GetSeries(r.Context(), id); err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "series not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load series")
		return
	}
	attempts, err := s.catalog.ListAttemptsSince(r.Context(), id, s.clock.Now().Add(-crawler.StatsWindow))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load attempts")
		return
	}
	writeJSON(w, http.StatusOK, crawler.ComputeCrawlStatistics(id, attempts))
}

func (s *Server) latestReport(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.reports.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no crawl cycle has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("request_id", RequestID(r.Context())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
