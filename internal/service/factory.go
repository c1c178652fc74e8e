package service

import (
	"log/slog"
	"net/http"

	"shopscout.app/research/core/config"
	"shopscout.app/research/internal/breaker"
	"shopscout.app/research/internal/pubsub"
	"shopscout.app/research/internal/queue"
	"shopscout.app/research/internal/store"
)

type ServicesConfig struct {
	Stores      *store.Stores
	TxRunner    TxRunner
	Coordinator ResearchCoordinator
	Breakers    *breaker.Registry
	Publisher   pubsub.Publisher
	Producer    queue.Producer // nil disables queue execution
	Research    config.ResearchConfig
	HTTPClient  *http.Client // callback delivery, nil gets a sane default
	Logger      *slog.Logger
}

type Services struct {
	manager      JobManager
	processor    *ResultProcessor
	orchestrator ResearchOrchestrator
}

func NewServices(cfg ServicesConfig) *Services {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	manager := NewJobManager(cfg.Stores.Jobs(), cfg.Research.MaxBatchSize, cfg.Logger)
	processor := NewResultProcessor(cfg.HTTPClient, cfg.Logger)

	// The orchestrator is built once: it owns the in-flight task registry.
	orchestrator := NewOrchestrator(OrchestratorDeps{
		Manager:     manager,
		Stores:      cfg.Stores,
		TxRunner:    cfg.TxRunner,
		Coordinator: cfg.Coordinator,
		Processor:   processor,
		Publisher:   cfg.Publisher,
		Producer:    cfg.Producer,
		Breakers:    cfg.Breakers,
		Logger:      cfg.Logger,
	})

	return &Services{
		manager:      manager,
		processor:    processor,
		orchestrator: orchestrator,
	}
}

func (s *Services) Jobs() JobManager { return s.manager }

func (s *Services) Results() *ResultProcessor { return s.processor }

func (s *Services) Orchestrator() ResearchOrchestrator { return s.orchestrator }
