// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/gili-labs/uigen/internal/auth"
	"github.com/gili-labs/uigen/internal/config"
	"github.com/gili-labs/uigen/internal/events"
	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
	"github.com/gili-labs/uigen/internal/project"
	"github.com/gili-labs/uigen/internal/protocol"
	"github.com/gili-labs/uigen/internal/quota"
	"github.com/gili-labs/uigen/internal/storage"
)

// ProjectStore is the persistence surface the server needs. *project.Store
// implements it; tests substitute an in-memory fake.
type ProjectStore interface {
	project.SnapshotStore
	CreateProject(ctx context.Context, ownerID int, name string, snapshot map[string]string) (*project.Project, error)
	GetProject(ctx context.Context, ownerID, id int) (*project.Project, error)
	ListProjects(ctx context.Context, ownerID int) ([]project.Project, error)
	DeleteProject(ctx context.Context, ownerID, id int) error
}

// Server is the HTTP server.
type Server struct {
	projects   ProjectStore
	workspaces *project.Manager
	auth       *auth.Auth
	limiter    *quota.RateLimiter
	export     storage.Backend
	config     *config.Config
}

// NewServer creates a new server.
func NewServer(
	projects ProjectStore,
	workspaces *project.Manager,
	authHandler *auth.Auth,
	rateLimiter *quota.RateLimiter,
	export storage.Backend,
	cfg *config.Config,
) *Server {
	return &Server{
		projects:   projects,
		workspaces: workspaces,
		auth:       authHandler,
		limiter:    rateLimiter,
		export:     export,
		config:     cfg,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/register", s.auth.HandleRegister)
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)
	if s.auth.HasOIDC() {
		mux.HandleFunc("GET /api/v1/auth/oidc/login", s.auth.HandleOIDCLogin)
		mux.HandleFunc("GET /api/v1/auth/oidc/callback", s.auth.HandleOIDCCallback)
	}

	// Protected endpoints
	protected := http.NewServeMux()

	// Build-triggering endpoints get the per-user rate limit; reads and
	// event streams do not.
	limited := quota.RateLimitMiddleware(s.limiter, s.config.BuildsPerMinute, auth.UserID)

	// Project endpoints
	protected.HandleFunc("POST /api/v1/projects", s.handleCreateProject)
	protected.HandleFunc("GET /api/v1/projects", s.handleListProjects)
	protected.HandleFunc("GET /api/v1/projects/{id}", s.handleGetProject)
	protected.HandleFunc("DELETE /api/v1/projects/{id}", s.handleDeleteProject)
	protected.HandleFunc("POST /api/v1/projects/{id}/snapshot", s.handleSnapshot)
	protected.HandleFunc("POST /api/v1/projects/{id}/export", s.handleExport)

	// Workspace file endpoints
	protected.HandleFunc("GET /api/v1/projects/{id}/tree", s.handleTree)
	protected.HandleFunc("GET /api/v1/projects/{id}/files/{path...}", s.handleReadFile)
	protected.Handle("PUT /api/v1/projects/{id}/files/{path...}", limited(http.HandlerFunc(s.handleWriteFile)))
	protected.Handle("DELETE /api/v1/projects/{id}/files/{path...}", limited(http.HandlerFunc(s.handleDeleteFile)))
	protected.Handle("POST /api/v1/projects/{id}/patch/{path...}", limited(http.HandlerFunc(s.handlePatchFile)))
	protected.Handle("POST /api/v1/projects/{id}/rename/{path...}", limited(http.HandlerFunc(s.handleRenameFile)))

	// Preview endpoints
	protected.HandleFunc("GET /api/v1/projects/{id}/preview", s.handlePreview)
	protected.HandleFunc("GET /api/v1/projects/{id}/preview/result", s.handlePreviewResult)
	protected.Handle("POST /api/v1/projects/{id}/build", limited(http.HandlerFunc(s.handleBuild)))

	// SSE endpoint
	protected.HandleFunc("GET /api/v1/projects/{id}/events", s.handleEvents)

	// Wrap protected routes with auth
	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// ─── SSE ────────────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := ws.Bus.Subscribe()
	defer ws.Bus.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// workspace resolves the authenticated user's live workspace for the project
// named in the route, hydrating it from the stored snapshot on first touch.
func (s *Server) workspace(w http.ResponseWriter, r *http.Request) (*project.Workspace, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid project id")
		return nil, false
	}
	ws, err := s.workspaces.Get(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "project not found")
			return nil, false
		}
		logging.WithContext(r.Context()).Error("workspace load failed", zap.Int("project_id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to load workspace")
		return nil, false
	}
	return ws, true
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
