// Package api provides the HTTP server and handlers.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jsonedit/jsonedit/internal/coordinator"
	"github.com/jsonedit/jsonedit/internal/hub"
	"github.com/jsonedit/jsonedit/internal/logging"
	"github.com/jsonedit/jsonedit/internal/metrics"
	"github.com/jsonedit/jsonedit/webapp"
)

// Server is the HTTP server.
type Server struct {
	coord     *coordinator.Coordinator
	hub       *hub.Hub
	path      string
	staticDir string
	page      *template.Template
	log       *zap.Logger
}

// pageData is rendered into the editing page.
type pageData struct {
	Title   string
	Path    string
	Content string
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// NewServer creates a server for the file at path. staticDir is served for
// every path that has no handler of its own; empty disables static files.
func NewServer(coord *coordinator.Coordinator, h *hub.Hub, path, staticDir string) (*Server, error) {
	page, err := template.ParseFS(webapp.Assets, "index.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	return &Server{
		coord:     coord,
		hub:       h,
		path:      path,
		staticDir: staticDir,
		page:      page,
		log:       logging.Named("api"),
	}, nil
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", s.hub.Handler(s.coord))

	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}

	var handler http.Handler = mux
	handler = metrics.Middleware(handler)
	handler = logging.Middleware(handler)
	return handler
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	title := "untitled"
	if s.path != "" {
		title = filepath.Base(s.path)
	}

	var buf bytes.Buffer
	err := s.page.Execute(&buf, pageData{
		Title:   title,
		Path:    s.path,
		Content: s.coord.Content(),
	})
	if err != nil {
		s.log.Error("render page", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to render page")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	buf.WriteTo(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error: message,
		Code:  code,
	})
}
