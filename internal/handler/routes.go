package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dialverse/call-gateway/internal/config"
	"github.com/dialverse/call-gateway/internal/core/conference"
	"github.com/dialverse/call-gateway/internal/core/notify"
	"github.com/dialverse/call-gateway/internal/core/registry"
	"github.com/dialverse/call-gateway/internal/core/task"
	"github.com/dialverse/call-gateway/internal/core/timer"
	"github.com/dialverse/call-gateway/internal/repository"
	"github.com/dialverse/call-gateway/internal/services/call"
	"github.com/dialverse/call-gateway/pkg/gcs"
	"github.com/dialverse/call-gateway/pkg/logger"
	"github.com/dialverse/call-gateway/pkg/pubsub"
	redissvc "github.com/dialverse/call-gateway/pkg/redis"
	"github.com/dialverse/call-gateway/pkg/telnyx"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlerManager wires the full service graph and registers all routes.
type HandlerManager struct {
	config      *config.Config
	service     *call.Service
	hub         *notify.Hub
	repoManager repository.RepositoryManager
	timers      *timer.Manager
	tasks       *task.Runner
	pubsubSvc   *pubsub.PubSubService
	gcsClient   *gcs.GCSClient
}

// NewHandlerManager creates and initializes all services and handlers.
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	repoManager, err := repository.NewRepositoryManager()
	if err != nil {
		logger.Base().Error("failed to connect to database", zap.Error(err))
		return nil, err
	}

	// Redis is optional; without it the gateway runs single-pod with local
	// fan-out only.
	var redisSvc redissvc.RedisServiceInterface
	if cfg.RedisHost != "" {
		svc, rerr := redissvc.NewRedisService(&redissvc.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if rerr != nil {
			logger.Base().Warn("failed to initialize redis, running without presence and relay", zap.Error(rerr))
		} else {
			redisSvc = svc
		}
	}

	var gcsClient *gcs.GCSClient
	if cfg.GCSBucket != "" {
		client, gerr := gcs.NewGCSClient(context.Background(), cfg.GCSBucket)
		if gerr != nil {
			logger.Base().Warn("failed to initialize gcs, recordings stay on provider URLs", zap.Error(gerr))
		} else {
			gcsClient = client
		}
	}

	var pubsubSvc *pubsub.PubSubService
	if cfg.PubSubProjectID != "" {
		svc, perr := pubsub.NewPubSubService(context.Background(), &pubsub.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			TopicName: cfg.PubSubTopic,
			PubID:     cfg.InstanceID,
		})
		if perr != nil {
			logger.Base().Warn("failed to initialize pubsub, lifecycle events disabled", zap.Error(perr))
		} else {
			pubsubSvc = svc
		}
	}

	provider := telnyx.NewClient(telnyx.Config{
		BaseURL:           cfg.TelnyxBaseURL,
		APIKey:            cfg.TelnyxAPIKey,
		ConnectionID:      cfg.TelnyxConnectionID,
		RequestsPerSecond: cfg.TelnyxRateLimit,
	})

	reg := registry.New(repoManager.CallSession())
	hub := notify.NewHub(redisSvc)
	timers := timer.NewManager()
	tasks := task.NewRunner(cfg.TaskWorkers, cfg.TaskQueueSize, cfg.RecordingFetchTimeout*2)
	coordinator := conference.NewCoordinator(provider)

	deps := call.Deps{
		Registry:    reg,
		Provider:    provider,
		Coordinator: coordinator,
		Timers:      timers,
		Hub:         hub,
		Tasks:       tasks,
		Archive:     repoManager.WebhookEvent(),
		Recordings:  repoManager.Recording(),
		Sessions:    repoManager.CallSession(),
		Redis:       redisSvc,
	}
	if gcsClient != nil {
		deps.Assets = gcsClient
	}
	if pubsubSvc != nil {
		deps.Publisher = pubsubSvc
	}

	service := call.NewService(call.Config{
		WebhookURL:            cfg.WebhookURL(),
		DefaultFromNumber:     cfg.DefaultFromNumber,
		AutoHangupAfter:       cfg.MaxCallDuration,
		RecordingFetchTimeout: cfg.RecordingFetchTimeout,
	}, deps)

	return &HandlerManager{
		config:      cfg,
		service:     service,
		hub:         hub,
		repoManager: repoManager,
		timers:      timers,
		tasks:       tasks,
		pubsubSvc:   pubsubSvc,
		gcsClient:   gcsClient,
	}, nil
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CORSMiddleware)
	router.Use(GlobalLoggingMiddleware)

	router.HandleFunc("/healthz", hm.handleHealth).Methods("GET")

	webhookHandler := NewWebhookHandler(hm.service, hm.repoManager.WebhookEvent())
	webhookHandler.SetupWebhookRoutes(router)

	wsHandler := NewWSHandler(hm.hub)
	wsHandler.SetupWSRoutes(router)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(LoggingMiddleware)
	apiRouter.Use(ValidationMiddleware)

	callHandler := NewCallHandler(hm.service)
	callHandler.SetupCallRoutes(apiRouter)

	recordingHandler := NewRecordingHandler(hm.service)
	recordingHandler.SetupRecordingRoutes(apiRouter)

	router.PathPrefix("/api/").HandlerFunc(handleCORS).Methods("OPTIONS")

	logger.Base().Info("all application routes registered")
}

// handleHealth reports process and database health.
func (hm *HandlerManager) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := hm.repoManager.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// GetService returns the call service
func (hm *HandlerManager) GetService() *call.Service {
	return hm.service
}

// Shutdown drains background work and closes external connections.
func (hm *HandlerManager) Shutdown() {
	hm.timers.Shutdown()
	hm.tasks.Shutdown()
	if hm.pubsubSvc != nil {
		if err := hm.pubsubSvc.Close(); err != nil {
			logger.Base().Warn("pubsub close failed", zap.Error(err))
		}
	}
	if hm.gcsClient != nil {
		if err := hm.gcsClient.Close(); err != nil {
			logger.Base().Warn("gcs close failed", zap.Error(err))
		}
	}
	if err := hm.repoManager.Close(); err != nil {
		logger.Base().Warn("database close failed", zap.Error(err))
	}
}

// handleCORS handles CORS preflight requests for API routes
func handleCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusOK)
}
