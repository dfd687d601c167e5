package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dialverse/call-gateway/internal/config"
	"github.com/dialverse/call-gateway/internal/handler"
	"github.com/dialverse/call-gateway/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server is the call gateway HTTP server.
type Server struct {
	config         *config.Config
	router         *mux.Router
	handlerManager *handler.HandlerManager
	httpServer     *http.Server
}

// NewServer creates a new call gateway server
func NewServer(cfg *config.Config) (*Server, error) {
	if _, err := logger.Init(cfg.Env); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	router := mux.NewRouter()

	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		return nil, err
	}
	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}, nil
}

// Start runs the server until the listener fails or Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Base().Info("Starting server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop drains in-flight requests and background work.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Base().Warn("HTTP shutdown incomplete", zap.Error(err))
		}
	}
	s.handlerManager.Shutdown()
	logger.Sync()
}

// instanceID identifies this pod in logs and relayed messages.
func instanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("call-gateway-%d", time.Now().UnixNano())
}

func main() {
	// Load .env for local development; never overrides real env vars.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.Load()
	if cfg.InstanceID == "" {
		cfg.InstanceID = instanceID()
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	logger.Base().Info("Server initialized",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		logger.Base().Info("Shutdown signal received", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Stop(ctx)
	}
}
