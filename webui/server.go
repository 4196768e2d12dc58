// Package webui serves the detection dashboard: a small JSON API, a
// websocket result stream and the embedded frontend.
package webui

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/fingerprint"
	"github.com/veex0x01/stackscope/reporting"
)

//go:embed frontend/*
var frontendFS embed.FS

// Server is the web UI HTTP server
type Server struct {
	ListenAddr string
	Logger     *reporting.Logger
	Hub        *WSHub
	History    *History

	// Threshold and Sort are applied to POST /api/detect results
	Threshold int
	Sort      string

	detector *detector.Detector
	auth     *BasicAuth
	mux      *http.ServeMux
	started  time.Time

	mu      sync.RWMutex
	catalog *fingerprint.Catalog
}

// BasicAuth holds credentials for basic auth
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new web UI server. Basic auth is enabled when both
// user and pass are set.
func NewServer(addr string, cat *fingerprint.Catalog, logger *reporting.Logger, user, pass string) *Server {
	logger = reporting.OrNop(logger)
	s := &Server{
		ListenAddr: addr,
		Logger:     logger.WithModule("webui"),
		Hub:        NewWSHub(),
		History:    NewHistory(DefaultHistorySize),
		detector:   detector.New(logger),
		mux:        http.NewServeMux(),
		started:    time.Now(),
		catalog:    cat,
	}

	if user != "" && pass != "" {
		s.auth = &BasicAuth{Username: user, Password: pass}
	}

	s.setupRoutes()
	return s
}

// SetCatalog swaps the catalog used by POST /api/detect
func (s *Server) SetCatalog(cat *fingerprint.Catalog) {
	s.mu.Lock()
	s.catalog = cat
	s.mu.Unlock()
}

func (s *Server) currentCatalog() *fingerprint.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Handler exposes the routes, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) setupRoutes() {
	// API routes
	s.mux.HandleFunc("/api/health", s.withAuth(s.handleHealth))
	s.mux.HandleFunc("/api/detect", s.withAuth(s.handleDetect))
	s.mux.HandleFunc("/api/history", s.withAuth(s.handleHistory))

	// WebSocket
	s.mux.HandleFunc("/ws", s.withAuth(s.handleWebSocket))

	// Static frontend
	frontend, err := fs.Sub(frontendFS, "frontend")
	if err != nil {
		s.Logger.Error("Failed to load frontend: %v", err)
		return
	}
	s.mux.Handle("/", s.withAuth(http.FileServer(http.FS(frontend)).ServeHTTP))
}

// Publish records a report in the history and streams it to every
// connected client
func (s *Server) Publish(report detector.Report) {
	s.History.Add(report)
	s.Hub.Broadcast(WSMessage{Type: "result", Data: report})
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	go s.Hub.Run(ctx)

	// Stream logs to WebSocket clients
	s.Logger.SetCallback(func(level reporting.LogLevel, msg string) {
		s.Hub.Broadcast(WSMessage{
			Type: "log",
			Data: map[string]string{
				"level":     reporting.LogLevelNames[level],
				"message":   msg,
				"timestamp": time.Now().Format(time.RFC3339),
			},
		})
	})
	defer s.Logger.SetCallback(nil)

	server := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.Logger.Success("Web UI running on http://%s", s.ListenAddr)
	if s.auth != nil {
		s.Logger.Info("Basic auth enabled (user: %s)", s.auth.Username)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.auth.Username || pass != s.auth.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="stackscope"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
