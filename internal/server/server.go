// Package server is the HTTP surface. Handlers stay thin: decode, call the
// owning component, encode. Errors cross the boundary as RFC 7807 problem
// documents.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ariadne/internal/config"
	"ariadne/internal/dualwrite"
	"ariadne/internal/embedding"
	"ariadne/internal/graph"
	"ariadne/internal/impact"
	"ariadne/internal/incremental"
	"ariadne/internal/jobs"
	"ariadne/internal/logging"
	"ariadne/internal/metrics"
	"ariadne/internal/rebuild"
	"ariadne/internal/rules"
	"ariadne/internal/trace"
	"ariadne/internal/vector"
)

// Server wires the components behind the HTTP routes.
type Server struct {
	cfg       config.ServerConfig
	mgr       *graph.Manager
	queue     *jobs.Queue
	rebuilder *rebuild.Rebuilder
	incr      *incremental.Coordinator
	dual      *dualwrite.Coordinator
	analyzer  *impact.Analyzer
	tracer    *trace.Tracer
	rules     *rules.Engine
	vectors   *vector.Store
	engine    embedding.Engine
	limiter   *rateLimiter
}

// Deps collects everything the server needs.
type Deps struct {
	Manager     *graph.Manager
	Queue       *jobs.Queue
	Rebuilder   *rebuild.Rebuilder
	Incremental *incremental.Coordinator
	DualWrite   *dualwrite.Coordinator
	Impact      *impact.Analyzer
	Tracer      *trace.Tracer
	Rules       *rules.Engine
	Vectors     *vector.Store
	Embedding   embedding.Engine // nil disables vector search
}

// New creates a server.
func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		mgr:       deps.Manager,
		queue:     deps.Queue,
		rebuilder: deps.Rebuilder,
		incr:      deps.Incremental,
		dual:      deps.DualWrite,
		analyzer:  deps.Impact,
		tracer:    deps.Tracer,
		rules:     deps.Rules,
		vectors:   deps.Vectors,
		engine:    deps.Embedding,
	}
	if cfg.RateLimitEnabled {
		s.limiter = newRateLimiter(cfg.RateLimitPerMin)
	}
	return s
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(s.observe)
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/knowledge", func(r chi.Router) {
		r.Post("/rebuild", s.handleRebuild)
		r.Get("/impact", s.handleImpact)
		r.Post("/graph/query", s.handleGraphQuery)
		r.Get("/search", s.handleSearch)
		r.Get("/glossary", s.handleGlossary)
		r.Get("/constraints", s.handleConstraints)
		r.Post("/trace", s.handleTrace)
		r.Get("/anti-patterns", s.handleAntiPatterns)
		r.Post("/anti-patterns/detect", s.handleDetect)
	})
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Get("/jobs", s.handleListJobs)
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Get(logging.CategoryServer).Infow("listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.HTTPRequests.WithLabelValues(
			r.Method+" "+r.URL.Path,
			fmt.Sprintf("%dxx", ww.Status()/100),
		).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, release := s.mgr.Acquire()
	defer release()
	status := "ok"
	code := http.StatusOK
	if err := st.IntegrityCheck(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryBool(r *http.Request, key string, def bool) bool {
	if v := r.URL.Query().Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
