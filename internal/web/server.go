// Package web serves the router's status over HTTP: a small status page, a
// JSON API and a WebSocket event stream.
package web

import (
	"bytes"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"zigbee-go-router/internal/events"
	"zigbee-go-router/internal/profile"
	"zigbee-go-router/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Config holds the HTTP listener settings.
type Config struct {
	Listen         string   `yaml:"listen"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StatusFunc returns the current node status as a JSON-encodable value.
type StatusFunc func() interface{}

// HistoryLister reads the join journal. *store.BoltStore satisfies it.
type HistoryLister interface {
	ListHistory(limit int) ([]*store.HistoryEntry, error)
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string shown in the UI.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithHistory exposes the join journal at /api/history.
func WithHistory(h HistoryLister) ServerOption {
	return func(s *Server) {
		s.history = h
	}
}

// Server is the HTTP server for the status interface.
type Server struct {
	desc           *profile.DeviceDescriptor
	status         StatusFunc
	history        HistoryLister
	page           *template.Template
	hub            *streamHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a server for desc. Every bus event is forwarded to
// WebSocket clients.
func NewServer(desc *profile.DeviceDescriptor, status StatusFunc, bus *events.Bus, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	page, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	s := &Server{
		desc:   desc,
		status: status,
		page:   page,
		logger: logger.With("component", "web"),
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.hub = newStreamHub(s.logger, s.currentStatus)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.run()
	}()
	s.unsubEvents = bus.OnAll(s.hub.Publish)

	s.routes()
	return s, nil
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.hub.stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.Handle("GET /static/", http.FileServer(http.FS(staticFS)))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)

	s.mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	s.mux.HandleFunc("GET /api/descriptor", s.handleAPIDescriptor)
	s.mux.HandleFunc("GET /api/history", s.handleAPIHistory)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /api/ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// The WebSocket endpoint is exempt: browsers cannot set headers on the
	// upgrade request. Its origin is checked at accept time instead.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") && r.URL.Path != "/api/ws" {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) currentStatus() interface{} {
	if s.status == nil {
		return map[string]interface{}{}
	}
	return s.status()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"Version":    s.version,
		"Descriptor": describe(s.desc),
		"APIKey":     s.apiKey,
	}
	if raw, err := json.MarshalIndent(s.currentStatus(), "", "  "); err == nil {
		data["Status"] = string(raw)
	}

	// Render to a buffer first, so a failed render doesn't leave a partial page.
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, data); err != nil {
		s.logger.Error("render index", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("write index response", "err", err)
	}
}
