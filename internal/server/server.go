// Package server exposes the allocation engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/allocator/internal/engine"
	"github.com/spigell/allocator/internal/logger"
	"github.com/spigell/allocator/internal/profile"
	"github.com/spigell/allocator/internal/publish"
	"github.com/spigell/allocator/internal/store"
)

const (
	HeaderRunID       = "X-Run-Id"
	HeaderFingerprint = "X-Input-Fingerprint"

	defaultMaxBody = 8 << 20
)

// Runner allocates one dataset.
type Runner interface {
	Run(ctx context.Context, ds *profile.Dataset) (*engine.Result, error)
}

// Archive keeps finished runs.
type Archive interface {
	Save(ctx context.Context, rec store.Record) (*store.Run, error)
	Get(ctx context.Context, id string) (*store.Run, error)
	List(ctx context.Context, fingerprint string, limit int) ([]store.Run, error)
}

type Publisher interface {
	Publish(ctx context.Context, r publish.Report) error
}

type Config struct {
	RequestsPerSecond float64
	Burst             int
	AllowedOrigins    []string
	MaxBodyBytes      int64
	// ConfigDigest is folded into every input fingerprint so that runs over
	// the same dataset with different settings never compare equal.
	ConfigDigest []byte
}

// Deps are the collaborators of the server. Archive and Publisher are optional.
type Deps struct {
	Runner    Runner
	Archive   Archive
	Publisher Publisher
	Logger    *zap.Logger
}

type Server struct {
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)
	return &Server{cfg: cfg, deps: deps, limiter: rate.NewLimiter(limit, burst)}
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{HeaderRunID, HeaderFingerprint},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(s.rateLimit).Post("/allocations", s.allocate)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)
	})

	return otelhttp.NewHandler(r, "allocator")
}

// ListenAndServe serves until ctx is done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func (s *Server) allocate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", err)
			return
		}
		writeError(w, http.StatusBadRequest, string(engine.KindInvalidInput), err)
		return
	}

	ds, err := profile.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(engine.KindInvalidInput), err)
		return
	}

	runID := store.NewID()
	fingerprint := store.Fingerprint(body, s.cfg.ConfigDigest)
	log := logger.WithRun(s.deps.Logger, runID)

	res, err := s.deps.Runner.Run(r.Context(), ds)
	if err != nil {
		kind := engine.Classify(err)
		log.Warn("allocation request failed", zap.String("kind", string(kind)), zap.Error(err))
		writeError(w, statusFor(kind), string(kind), err)
		return
	}

	if s.deps.Archive != nil {
		saved, err := s.deps.Archive.Save(r.Context(), store.Record{
			ID:          runID,
			Fingerprint: fingerprint,
			Stage:       string(res.Report.Stage),
			Matched:     res.Report.Stats.Matched,
			Unmatched:   len(res.Report.Unmatched),
			Report:      res.Canonical,
		})
		if err != nil {
			log.Error("archiving run", zap.Error(err))
			writeError(w, http.StatusInternalServerError, string(engine.KindInternal), err)
			return
		}
		runID = saved.ID
	}

	if s.deps.Publisher != nil {
		err := s.deps.Publisher.Publish(r.Context(), publish.Report{
			RunID:       runID,
			Fingerprint: fingerprint,
			Stage:       string(res.Report.Stage),
			Body:        res.Canonical,
		})
		if err != nil {
			log.Error("publishing report", zap.Error(err))
			writeError(w, http.StatusBadGateway, "publish_failed", err)
			return
		}
	}

	w.Header().Set(HeaderRunID, runID)
	w.Header().Set(HeaderFingerprint, fingerprint)
	writeRaw(w, http.StatusOK, res.Canonical)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusNotFound, "archive_disabled", errors.New("run archive is not configured"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.deps.Archive.List(r.Context(), r.URL.Query().Get("fingerprint"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(engine.KindInternal), err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusNotFound, "archive_disabled", errors.New("run archive is not configured"))
		return
	}
	run, err := s.deps.Archive.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(engine.KindInternal), err)
		return
	}
	w.Header().Set(HeaderRunID, run.ID)
	w.Header().Set(HeaderFingerprint, run.Fingerprint)
	writeRaw(w, http.StatusOK, run.Report)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", errors.New("too many allocation requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.deps.Logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidInput:
		return http.StatusBadRequest
	case engine.KindSignalUnavailable:
		return http.StatusUnprocessableEntity
	case engine.KindNonConvergence, engine.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorBody{Error: kind, Message: err.Error()})
}
