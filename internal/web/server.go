package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/brunopatuleia/tootkeeper/internal/api"
	"github.com/brunopatuleia/tootkeeper/internal/config"
	"github.com/brunopatuleia/tootkeeper/internal/database"
	"github.com/brunopatuleia/tootkeeper/internal/logging"
	"github.com/brunopatuleia/tootkeeper/internal/profile"
	"github.com/brunopatuleia/tootkeeper/internal/sync"
)

// Server holds the dependencies for the web server.
type Server struct {
	Config     *config.Config
	DB         *database.DB
	Client     *api.Client
	Scheduler  *sync.Scheduler
	Updater    *profile.Updater
	httpServer *http.Server
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, db *database.DB, client *api.Client, scheduler *sync.Scheduler, updater *profile.Updater) *Server {
	return &Server{
		Config:    cfg,
		DB:        db,
		Client:    client,
		Scheduler: scheduler,
		Updater:   updater,
	}
}

// Start runs the HTTP server in a goroutine.
func (s *Server) Start() {
	h := NewHandler(s.Config, s.DB, s.Client, s.Scheduler, s.Updater)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         s.Config.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logging.Info("Starting web server on %s", s.Config.ListenAddr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Web server failed: %v", err)
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	logging.Info("Shutting down web server...")
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
	return nil
}
