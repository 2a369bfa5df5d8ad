package api

import (
	"encoding/json"
	"net/http"

	"github.com/gili-labs/uigen/internal/events"
	"github.com/gili-labs/uigen/internal/metrics"
	"github.com/gili-labs/uigen/internal/project"
	"github.com/gili-labs/uigen/internal/protocol"
	"github.com/gili-labs/uigen/internal/vfs"
)

// filePath extracts the workspace file path from the route wildcard.
func filePath(r *http.Request) string {
	return "/" + r.PathValue("path")
}

// ─── Tree ───────────────────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}

	files := make([]protocol.FileInfo, 0, ws.Files.Count())
	for p := range ws.Files.List() {
		rec, err := ws.Files.Read(p)
		if err != nil {
			continue // deleted between snapshot and read
		}
		files = append(files, protocol.FileInfo{
			Path:    rec.Path,
			Kind:    rec.Kind.String(),
			Size:    len(rec.Content),
			ModTime: rec.ModTime,
		})
	}
	metrics.SetWorkspaceFiles(int64(len(files)))

	s.sendJSON(w, http.StatusOK, protocol.TreeResponse{
		Files:    files,
		Revision: ws.Files.Revision(),
	})
}

// ─── File CRUD ──────────────────────────────────────────────────────────────

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	p := filePath(r)

	rec, err := ws.Files.Read(p)
	if err != nil {
		s.sendFileOpError(w, "read", p, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.FileResponse{
		Path:    rec.Path,
		Kind:    rec.Kind.String(),
		Content: rec.Content,
	})
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	p := filePath(r)

	var req protocol.WriteFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := ws.Files.Write(p, req.Content)
	metrics.RecordStoreOp("write", err == nil)
	if err != nil {
		s.sendFileOpError(w, "write", p, err)
		return
	}

	s.afterMutation(ws, events.EventFileWrite, vfs.Normalize(p), "")
	s.sendJSON(w, http.StatusOK, protocol.FileOpResponse{
		Op:       "write",
		Path:     vfs.Normalize(p),
		Revision: ws.Files.Revision(),
	})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	p := filePath(r)

	err := ws.Files.Remove(p)
	metrics.RecordStoreOp("remove", err == nil)
	if err != nil {
		s.sendFileOpError(w, "remove", p, err)
		return
	}

	s.afterMutation(ws, events.EventFileDelete, vfs.Normalize(p), "")
	s.sendJSON(w, http.StatusOK, protocol.FileOpResponse{
		Op:       "remove",
		Path:     vfs.Normalize(p),
		Revision: ws.Files.Revision(),
	})
}

func (s *Server) handlePatchFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	p := filePath(r)

	var req protocol.PatchFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := ws.Files.Patch(p, req.Search, req.Replace, req.ReplaceAll)
	metrics.RecordStoreOp("patch", err == nil)
	if err != nil {
		s.sendFileOpError(w, "patch", p, err)
		return
	}

	s.afterMutation(ws, events.EventFilePatch, vfs.Normalize(p), "")
	s.sendJSON(w, http.StatusOK, protocol.FileOpResponse{
		Op:       "patch",
		Path:     vfs.Normalize(p),
		Revision: ws.Files.Revision(),
	})
}

func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	p := filePath(r)

	var req protocol.RenameFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := ws.Files.Rename(p, req.To)
	metrics.RecordStoreOp("rename", err == nil)
	if err != nil {
		s.sendFileOpError(w, "rename", p, err)
		return
	}

	np := vfs.Normalize(req.To)
	s.afterMutation(ws, events.EventFileRename, np, vfs.Normalize(p))
	s.sendJSON(w, http.StatusOK, protocol.FileOpResponse{
		Op:       "rename",
		Path:     np,
		Revision: ws.Files.Revision(),
	})
}

// afterMutation publishes the file event and schedules a rebuild.
func (s *Server) afterMutation(ws *project.Workspace, eventType, path, from string) {
	ws.Bus.Publish(events.Event{
		Type:     eventType,
		Path:     path,
		From:     from,
		Revision: ws.Files.Revision(),
	})
	ws.Preview.Trigger()
}

// sendFileOpError maps a store error to an HTTP status with a structured
// body naming the failed operation.
func (s *Server) sendFileOpError(w http.ResponseWriter, op, path string, err error) {
	code := http.StatusInternalServerError
	kind := ""
	if se, ok := err.(*vfs.StoreError); ok {
		kind = string(se.Code)
		switch se.Code {
		case vfs.ErrNotFound:
			code = http.StatusNotFound
		case vfs.ErrConflict, vfs.ErrContentMismatch:
			code = http.StatusConflict
		case vfs.ErrInvalidPath:
			code = http.StatusBadRequest
		}
	}
	s.sendJSON(w, code, protocol.FileOpError{
		Error: err.Error(),
		Code:  code,
		Op:    op,
		Path:  path,
		Kind:  kind,
	})
}
