package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/mnemo/internal/access"
	"github.com/MikeSquared-Agency/mnemo/internal/ingest"
	"github.com/MikeSquared-Agency/mnemo/internal/line"
	"github.com/MikeSquared-Agency/mnemo/internal/responder"
)

const (
	Name    = "mnemo"
	Version = "1.0.4"
)

// EventHandler answers a batch of webhook events.
type EventHandler interface {
	HandleBatch(ctx context.Context, events []line.Event, allow access.AllowList) []responder.Attempt
}

// Ingester turns an uploaded export into indexed documents.
type Ingester interface {
	Ingest(ctx context.Context, raw string, opts ingest.Options) (*ingest.Result, error)
}

// Index is the part of the vector index the clear endpoint needs.
type Index interface {
	Clear(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Publisher emits hermes events.
type Publisher interface {
	Publish(subject string, data any) error
}

// Deps are the server's collaborators. Index and Publisher may be nil.
type Deps struct {
	Events        EventHandler
	Ingest        Ingester
	Index         Index
	Publisher     Publisher
	ChannelSecret string
	// AllowList is consulted on every webhook request.
	AllowList func() string
	// Features is echoed by the health endpoint.
	Features map[string]string
}

type Server struct {
	router   *chi.Mux
	port     int
	apiToken string
	deps     Deps
	logger   *slog.Logger
	http     *http.Server
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	if deps.AllowList == nil {
		deps.AllowList = func() string { return "" }
	}

	s := &Server{
		router:   router,
		port:     port,
		apiToken: apiToken,
		deps:     deps,
		logger:   logger,
	}

	router.Get("/", s.health)
	router.Get("/health", s.health)
	router.Post("/webhook", s.webhook)

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/prepare", s.prepare)
		r.Post("/clear", s.clear)
	})

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// BearerAuthMiddleware requires "Authorization: Bearer <token>". An empty
// token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type healthResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints []string          `json:"endpoints"`
	Features  map[string]string `json:"features"`
	Usage     map[string]string `json:"usage"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	features := map[string]string{
		"strategy":             "immediate response with fallback",
		"backgroundProcessing": "enabled with Push API",
		"retrieval":            "disabled",
		"accessControl":        "open",
	}
	if s.deps.Index != nil {
		features["retrieval"] = "enabled"
	}
	if access.ParseAllowList(s.deps.AllowList()).Configured() {
		features["accessControl"] = "allow-list"
	}
	for k, v := range s.deps.Features {
		features[k] = v
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Message:   "LINE Talk RAG System",
		Version:   Version,
		Status:    "ok",
		Endpoints: []string{"/prepare", "/webhook", "/clear", "/health"},
		Features:  features,
		Usage: map[string]string{
			"fileUpload":  "curl -X POST /prepare -F 'file=@chat.txt'",
			"withOptions": `curl -X POST /prepare -F 'file=@chat.txt' -F 'options={"chunkSize": 2000}'`,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
