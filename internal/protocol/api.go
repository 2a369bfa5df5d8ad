// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/gili-labs/uigen/internal/graph"
	"github.com/gili-labs/uigen/internal/preview"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// RegisterRequest is the body for POST /api/v1/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenRequest is the body for POST /api/v1/auth/token.
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateProjectRequest is the body for POST /api/v1/projects.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// ProjectResponse describes one project.
type ProjectResponse struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int       `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectListResponse is returned by GET /api/v1/projects.
type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

// TreeResponse is returned by GET /api/v1/projects/{id}/tree.
type TreeResponse struct {
	Files    []FileInfo `json:"files"`
	Revision uint64     `json:"revision"`
}

// FileInfo describes one workspace file.
type FileInfo struct {
	Path    string    `json:"path"`
	Kind    string    `json:"kind"`
	Size    int       `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// FileResponse is returned by GET .../files/{path...}.
type FileResponse struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// WriteFileRequest is the body for PUT .../files/{path...}.
type WriteFileRequest struct {
	Content string `json:"content"`
}

// PatchFileRequest is the body for POST .../files/{path...}/patch.
type PatchFileRequest struct {
	Search     string `json:"search"`
	Replace    string `json:"replace"`
	ReplaceAll bool   `json:"replace_all"`
}

// RenameFileRequest is the body for POST .../files/{path...}/rename.
type RenameFileRequest struct {
	To string `json:"to"`
}

// FileOpResponse reports the outcome of one file operation.
type FileOpResponse struct {
	Op       string `json:"op"`
	Path     string `json:"path"`
	Revision uint64 `json:"revision"`
}

// FileOpError is the structured failure detail of one file operation.
type FileOpError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Op    string `json:"op"`
	Path  string `json:"path"`
	Kind  string `json:"kind"` // not_found, conflict, content_mismatch, invalid_path
}

// BuildResponse is returned by POST .../build and GET .../preview/result.
type BuildResponse struct {
	Status      string                 `json:"status"`
	Revision    uint64                 `json:"revision"`
	Diagnostics []graph.FileDiagnostic `json:"diagnostics,omitempty"`
	RuntimeErr  string                 `json:"runtime_error,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// BuildResponseFrom converts a preview state.
func BuildResponseFrom(st preview.State) BuildResponse {
	resp := BuildResponse{
		Status:      string(st.Status),
		Revision:    st.Revision,
		Diagnostics: st.Diagnostics,
		UpdatedAt:   st.UpdatedAt,
	}
	if st.RuntimeErr != nil {
		resp.RuntimeErr = st.RuntimeErr.Message
	}
	return resp
}

// ExportResponse is returned by POST .../export.
type ExportResponse struct {
	Key     string `json:"key"`
	Backend string `json:"backend"`
	Size    int    `json:"size"`
}
