package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gili-labs/uigen/internal/auth"
	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
	"github.com/gili-labs/uigen/internal/project"
	"github.com/gili-labs/uigen/internal/protocol"
)

// ─── Projects ───────────────────────────────────────────────────────────────

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req protocol.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "project name required")
		return
	}

	p, err := s.projects.CreateProject(r.Context(), userID, req.Name, project.DefaultScaffold())
	if err != nil {
		logging.WithContext(r.Context()).Error("project create failed", zap.String("name", req.Name), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	s.sendJSON(w, http.StatusCreated, projectResponse(p))
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	list, err := s.projects.ListProjects(r.Context(), userID)
	if err != nil {
		logging.WithContext(r.Context()).Error("project list failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}

	resp := protocol.ProjectListResponse{Projects: make([]protocol.ProjectResponse, 0, len(list))}
	for i := range list {
		resp.Projects = append(resp.Projects, projectResponse(&list[i]))
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := s.projectID(w, r)
	if !ok {
		return
	}

	p, err := s.projects.GetProject(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "project not found")
			return
		}
		logging.WithContext(r.Context()).Error("project get failed", zap.Int("project_id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	s.sendJSON(w, http.StatusOK, projectResponse(p))
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := s.projectID(w, r)
	if !ok {
		return
	}

	if err := s.projects.DeleteProject(r.Context(), userID, id); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "project not found")
			return
		}
		logging.WithContext(r.Context()).Error("project delete failed", zap.Int("project_id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	s.workspaces.Drop(id)
	w.WriteHeader(http.StatusNoContent)
}

// ─── Snapshot / Export ──────────────────────────────────────────────────────

// handleSnapshot persists the live workspace's file map back to the
// project's stored snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := s.projectID(w, r)
	if !ok {
		return
	}

	if err := s.workspaces.Persist(r.Context(), userID, id); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "no live workspace for project")
			return
		}
		logging.WithContext(r.Context()).Error("snapshot save failed", zap.Int("project_id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to save snapshot")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// handleExport writes the workspace's serialized file map to the configured
// export backend as a JSON object.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	data, err := json.Marshal(ws.Files.Serialize())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to serialize workspace")
		return
	}

	key := fmt.Sprintf("exports/%d/%d.json", ws.ProjectID, time.Now().Unix())
	err = s.export.PutObject(r.Context(), key, bytes.NewReader(data), int64(len(data)))
	metrics.RecordExportOp(s.export.Type(), err == nil)
	if err != nil {
		logging.WithContext(r.Context()).Error("export failed", zap.String("key", key), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to store export")
		return
	}

	s.sendJSON(w, http.StatusOK, protocol.ExportResponse{
		Key:     key,
		Backend: s.export.Type(),
		Size:    len(data),
	})
}

// projectID extracts the authenticated user and the project route parameter.
func (s *Server) projectID(w http.ResponseWriter, r *http.Request) (userID, id int, ok bool) {
	userID, ok = auth.UserID(r.Context())
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "not authenticated")
		return 0, 0, false
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid project id")
		return 0, 0, false
	}
	return userID, id, true
}

func projectResponse(p *project.Project) protocol.ProjectResponse {
	return protocol.ProjectResponse{
		ID:        p.ID,
		Name:      p.Name,
		OwnerID:   p.OwnerID,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
