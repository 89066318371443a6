package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lazypower/storywalk/internal/config"
	"github.com/lazypower/storywalk/internal/engine"
	"github.com/lazypower/storywalk/internal/store"
)

// Options configures a Server. Zero values fall back to config.Default().
type Options struct {
	Version     string
	Logger      *zap.Logger
	Recall      config.RecallConfig
	CORSOrigins []string
	RateLimit   config.RateLimitConfig
	Metrics     *Collector
}

// Server is the storywalk HTTP API server.
//
// The engine does no locking of its own; mu serialises index mutation
// against recall.
type Server struct {
	db       *store.DB
	mu       sync.RWMutex
	walker   *engine.StoryWalker
	recall   atomic.Pointer[config.RecallConfig]
	logger   *zap.Logger
	metrics  *Collector
	validate *validator.Validate
	limiter  *rate.Limiter
	cors     []string
	router   chi.Router
	version  string
	started  time.Time
}

// New creates a Server over a store and an engine already loaded from it.
func New(db *store.DB, walker *engine.StoryWalker, opts Options) *Server {
	defaults := config.Default()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recall.MaxBeatsCap == 0 {
		opts.Recall = defaults.Recall
	}
	if opts.Metrics == nil {
		opts.Metrics = NewCollector("storywalk")
	}

	s := &Server{
		db:       db,
		walker:   walker,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cors:     opts.CORSOrigins,
		version:  opts.Version,
		started:  time.Now(),
	}
	if opts.RateLimit.RPS > 0 {
		burst := opts.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit.RPS), burst)
	}
	s.SetRecall(opts.Recall)
	s.metrics.SetGraphSize(walker.Len(), len(walker.Edges()))
	s.routes()
	return s
}

// SetRecall swaps the recall defaults. Safe to call while serving.
func (s *Server) SetRecall(rc config.RecallConfig) {
	s.recall.Store(&rc)
}

func (s *Server) recallDefaults() config.RecallConfig {
	return *s.recall.Load()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if len(s.cors) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cors,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/memories", s.handleUpsertScene)
		r.Get("/memories/{sceneID}", s.handleGetScene)
		r.Post("/edges", s.handleAddEdge)
		r.With(s.rateLimit).Post("/recall/story", s.handleStoryRecall)

		// Recorded only; recall does not read them.
		r.Post("/motifs", s.handleMotif)
		r.Post("/feedback", s.handleFeedback)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}
	schema, err := s.db.SchemaVersion()
	if err != nil {
		dbOK = false
	}

	s.mu.RLock()
	scenes, edges := s.walker.Len(), len(s.walker.Edges())
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
		"schema":  schema,
		"scenes":  scenes,
		"edges":   edges,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
