package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/headline-goat/popup-goat/internal/app"
)

type Server struct {
	app       *app.App
	port      int
	token     string
	router    *http.ServeMux
	startTime time.Time
}

// New builds the HTTP surface over a. An empty token generates a random one.
func New(a *app.App, port int, token string) *Server {
	if token == "" {
		token = generateToken()
	}
	srv := &Server{
		app:       a,
		port:      port,
		token:     token,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints, called from the host page
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/v1/decide", s.handleDecide)
	s.router.HandleFunc("/v1/events", s.handleEvents)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.app.Metrics.Registry, promhttp.HandlerOpts{}))

	// Admin endpoints (protected)
	s.router.Handle("/v1/campaigns", s.authMiddleware(http.HandlerFunc(s.handleCampaigns)))
	s.router.Handle("/v1/campaigns/{id}", s.authMiddleware(http.HandlerFunc(s.handleCampaign)))
	s.router.Handle("/v1/experiments", s.authMiddleware(http.HandlerFunc(s.handleExperiments)))
	s.router.Handle("POST /v1/experiments/{id}/start", s.authMiddleware(http.HandlerFunc(s.handleStartExperiment)))
	s.router.Handle("POST /v1/experiments/{id}/winner", s.authMiddleware(http.HandlerFunc(s.handleDeclareWinner)))
	s.router.Handle("GET /v1/experiments/{id}/results", s.authMiddleware(http.HandlerFunc(s.handleResults)))
	s.router.Handle("POST /v1/maintenance/tick", s.authMiddleware(http.HandlerFunc(s.handleTick)))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, printMessages bool) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if printMessages {
		fmt.Println()
		fmt.Printf("popgoat running on http://localhost:%d\n", s.port)
		fmt.Printf("Admin token: %s\n", s.token)
		fmt.Println()
		fmt.Println("Press Ctrl+C to stop")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(bytes)
}
