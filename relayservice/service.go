// Package relayservice assembles the push relay: the ingestion pipeline, the
// backend registry, the unsubscriber and the HTTP status surface.
package relayservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/backend"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"github.com/tinywideclouds/go-push-relay/relayservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.Record]
	registry        *backend.Registry
	unsubscriber    *pipeline.Unsubscriber

	cancelUnsub context.CancelFunc
	unsubDone   sync.WaitGroup
	logger      *slog.Logger
}

// New assembles the service. feedback may be nil; authMiddleware guards the
// feedback listing, which exposes device tokens.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	registry *backend.Registry,
	publisher pipeline.Publisher,
	feedback push.FeedbackStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Unsubscribe path
	var sink push.FeedbackSink
	if feedback != nil {
		sink = feedback
	}
	unsubscriber := pipeline.NewUnsubscriber(publisher, sink, logger)

	// 3. Pipeline
	processor := pipeline.NewProcessor(registry, unsubscriber, logger)
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.RecordTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. Status API
	statusAPI := api.NewStatusAPI(registry, feedback, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	mux.Handle("GET /api/v1/backends", corsMiddleware(http.HandlerFunc(statusAPI.ListBackends)))
	mux.Handle("GET /api/v1/backends/{host}/{app}", corsMiddleware(http.HandlerFunc(statusAPI.GetBackend)))
	mux.Handle("GET /api/v1/feedback", corsMiddleware(authMiddleware(http.HandlerFunc(statusAPI.RecentFeedback))))

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		registry:        registry,
		unsubscriber:    unsubscriber,
		logger:          logger,
	}, nil
}

// Start brings up the backends before the pipeline so that no record is
// routed to a stopped backend, then blocks serving HTTP.
func (w *Wrapper) Start(ctx context.Context) error {
	unsubCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancelUnsub = cancel
	w.unsubDone.Add(1)
	go func() {
		defer w.unsubDone.Done()
		w.unsubscriber.Run(unsubCtx)
	}()

	if err := w.registry.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start backends: %w", err)
	}

	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops intake first, then the backends (abandoning their pending
// work), then flushes outstanding unsubscribe signals.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	w.SetReady(false)
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}

	abandoned, err := w.registry.StopAll(ctx)
	if err != nil {
		w.logger.Error("Backend shutdown failed.", "err", err)
		finalErr = err
	}
	for id, batch := range abandoned {
		w.logger.Warn("Notifications abandoned at shutdown", "backend", id, "count", len(batch))
	}

	if w.cancelUnsub != nil {
		w.cancelUnsub()
		w.unsubDone.Wait()
	}

	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

// Registry exposes the backends, mainly for tests.
func (w *Wrapper) Registry() *backend.Registry {
	return w.registry
}
