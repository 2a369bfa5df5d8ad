package api

import (
	"html"
	"net/http"
	"strings"

	"github.com/gili-labs/uigen/internal/preview"
	"github.com/gili-labs/uigen/internal/protocol"
)

// ─── Preview ────────────────────────────────────────────────────────────────

// handleBuild forces a synchronous rebuild and returns the resulting state.
func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	st := ws.Preview.BuildNow(r.Context())
	s.sendJSON(w, http.StatusOK, protocol.BuildResponseFrom(st))
}

// handlePreviewResult returns the current build state without triggering
// a rebuild.
func (s *Server) handlePreviewResult(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.BuildResponseFrom(ws.Preview.State()))
}

// handlePreview serves the rendered workspace as a standalone HTML document.
// A workspace that has never built gets one synchronous build first.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.workspace(w, r)
	if !ok {
		return
	}
	st := ws.Preview.State()
	if st.Status == preview.StatusIdle {
		st = ws.Preview.BuildNow(r.Context())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(previewDocument(st)))
}

// previewDocument assembles the preview page: collected styles in the head,
// the rendered markup in the body, and an overlay when the last build or
// render failed. The markup itself comes from the sandbox renderer, which
// escapes all interpolated values; diagnostics are escaped here.
func previewDocument(st preview.State) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	if st.Styles != "" {
		b.WriteString("<style>\n")
		b.WriteString(st.Styles)
		b.WriteString("\n</style>\n")
	}
	b.WriteString(overlayCSS)
	b.WriteString("</head>\n<body>\n<div id=\"root\">")
	b.WriteString(st.HTML)
	b.WriteString("</div>\n")

	switch st.Status {
	case preview.StatusBuildFailed:
		b.WriteString("<div class=\"uigen-overlay\"><h2>Build failed</h2><ul>\n")
		for _, d := range st.Diagnostics {
			b.WriteString("<li><code>")
			b.WriteString(html.EscapeString(d.String()))
			b.WriteString("</code></li>\n")
		}
		b.WriteString("</ul></div>\n")
	case preview.StatusRuntimeError:
		b.WriteString("<div class=\"uigen-overlay\"><h2>Runtime error</h2><pre>")
		if st.RuntimeErr != nil {
			b.WriteString(html.EscapeString(st.RuntimeErr.Message))
			if st.RuntimeErr.Stack != "" {
				b.WriteString("\n\n")
				b.WriteString(html.EscapeString(st.RuntimeErr.Stack))
			}
		}
		b.WriteString("</pre></div>\n")
	}

	b.WriteString("</body>\n</html>\n")
	return b.String()
}

const overlayCSS = `<style>
.uigen-overlay {
  position: fixed;
  inset: 0;
  background: rgba(20, 20, 24, 0.92);
  color: #ff8080;
  font-family: monospace;
  padding: 2rem;
  overflow: auto;
}
.uigen-overlay pre { white-space: pre-wrap; }
</style>
`
