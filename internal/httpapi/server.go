// Package httpapi is the HTTP boundary: a chi router over the engine.
// Handlers validate and decode, call one engine operation, and render
// the result; no domain logic lives here. The one rule this layer owns
// is that ended sessions accept no further decisions.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ingest"
)

// Server wires the engine and its collaborators into an http.Handler.
type Server struct {
	engine    *engine.Engine
	ingest    *ingest.Service
	ws        http.HandlerFunc
	log       *slog.Logger
	validate  *validator.Validate
	apiKey    string
	ingestKey string
	origins   []string
}

// Options configures a Server.
type Options struct {
	// APIKey guards every route except /health and /ws. Empty
	// disables the check.
	APIKey string
	// IngestKey guards /ingest/message. Falls back to APIKey.
	IngestKey string
	// CORSOrigins lists allowed browser origins.
	CORSOrigins []string
	// WebSocket serves GET /ws when set.
	WebSocket http.HandlerFunc
	// Ingest serves POST /ingest/message when set.
	Ingest *ingest.Service
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewServer creates the HTTP boundary over the engine.
func NewServer(e *engine.Engine, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ingestKey := opts.IngestKey
	if ingestKey == "" {
		ingestKey = opts.APIKey
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		engine:    e,
		ingest:    opts.Ingest,
		ws:        opts.WebSocket,
		log:       log,
		validate:  validator.New(),
		apiKey:    opts.APIKey,
		ingestKey: ingestKey,
		origins:   origins,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.ws != nil {
		r.Get("/ws", s.ws)
	}

	if s.ingest != nil {
		r.With(s.requireKey(s.ingestKey)).Post("/ingest/message", s.handleIngestMessage)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireKey(s.apiKey))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/start", s.handleStart)
				r.Post("/decision", s.handleDecision)
				r.Post("/rewind", s.handleRewind)
				r.Post("/jump", s.handleJump)
				r.Post("/end", s.handleEnd)
				r.Get("/history", s.handleHistory)
				r.Get("/options", s.handleOptions)
				r.Get("/graph", s.handleGraph)
				r.Patch("/state", s.handleState)

				r.Post("/expand", s.handleExpand)
				r.Post("/add-option", s.handleAddOption)

				r.Post("/snapshot", s.handleSnapshot)
				r.Get("/snapshots", s.handleListSnapshots)
				r.Post("/restore/{snapshotID}", s.handleRestore)
				r.Delete("/snapshots/{snapshotID}", s.handleDeleteSnapshot)

				r.Route("/vote", func(r chi.Router) {
					r.Get("/", s.handleGetVote)
					r.Post("/start", s.handleStartVote)
					r.Post("/cast", s.handleCastVote)
					r.Post("/close", s.handleCloseVote)
				})
			})
		})

		r.Patch("/edges/{edgeID}", s.handleUpdateEdge)
		r.Delete("/edges/{edgeID}", s.handleDeleteEdge)

		r.Post("/admin/clear", s.handleAdminClear)
		r.Post("/admin/reset", s.handleAdminReset)
	})

	return r
}

// requireKey checks the shared secret in X-API-Key or ?key=. An empty
// configured key disables the check.
func (s *Server) requireKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" {
				got := r.Header.Get("X-API-Key")
				if got == "" {
					got = r.URL.Query().Get("key")
				}
				if got != key {
					respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing API key")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
