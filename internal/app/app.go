// -----------------------------------------------------------------------
// App - dependency wiring for the Forge service
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/handlers"
	"github.com/store3d/forge/internal/interfaces"
	"github.com/store3d/forge/internal/ledger"
	"github.com/store3d/forge/internal/provider"
	"github.com/store3d/forge/internal/queue"
	"github.com/store3d/forge/internal/services/bridge"
	"github.com/store3d/forge/internal/services/events"
	"github.com/store3d/forge/internal/services/generation"
	"github.com/store3d/forge/internal/state"
	badgerstorage "github.com/store3d/forge/internal/storage/badger"
	"github.com/store3d/forge/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Core services
	EventService      interfaces.EventService
	LedgerService     *ledger.Service
	StateMachine      *state.Machine
	QueueAdapter      interfaces.QueueAdapter
	Provider          interfaces.GenerationProvider
	GenerationService *generation.Service
	BridgeService     *bridge.Service

	// Worker
	Worker       *worker.Worker
	WorkerRunner *worker.Runner

	// HTTP handlers
	JobHandler    *handlers.JobHandler
	QueueHandler  *handlers.QueueHandler
	LedgerHandler *handlers.LedgerHandler
	BridgeHandler *handlers.BridgeHandler
	WSHandler     *handlers.WebSocketHandler
}

// New wires the full application from config. Nothing starts running until
// Start is called.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := badgerstorage.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.EventService = events.NewService(logger)

	a.LedgerService = ledger.NewService(storageManager.LedgerStorage(), storageManager.UserStorage(), logger)
	a.StateMachine = state.NewMachine(storageManager.JobStorage(), storageManager.JobEventStorage(), a.EventService, logger)

	// The durable queue shares the storage database
	var rawDB = storageManager.DB()
	store, _ := rawDB.(*badgerhold.Store)
	var adapter interfaces.QueueAdapter
	if store != nil {
		adapter, err = queue.NewAdapter(&cfg.Queue, cfg.Environment, store.Badger(), logger)
	} else {
		adapter, err = queue.NewAdapter(&cfg.Queue, cfg.Environment, nil, logger)
	}
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.QueueAdapter = adapter
	queue.SetDefault(adapter)

	a.Provider, err = provider.New(&cfg.Provider, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}

	a.GenerationService = generation.NewService(cfg, storageManager, a.StateMachine, a.LedgerService, adapter, a.EventService, logger)
	a.BridgeService = bridge.NewService(cfg, storageManager.BridgeStorage(), storageManager.UserStorage(), logger)

	// Completed jobs become bridge deliveries
	if err := a.EventService.Subscribe(interfaces.EventJobCompleted, a.BridgeService.HandleJobCompleted); err != nil {
		return nil, fmt.Errorf("failed to subscribe bridge service: %w", err)
	}

	a.Worker = worker.New(cfg, storageManager.JobStorage(), a.StateMachine, a.LedgerService, adapter, a.Provider, logger)
	a.WorkerRunner = worker.NewRunner(cfg, a.Worker, logger)

	a.JobHandler = handlers.NewJobHandler(a.GenerationService, logger)
	a.QueueHandler = handlers.NewQueueHandler(a.GenerationService, logger)
	a.LedgerHandler = handlers.NewLedgerHandler(a.LedgerService, logger)
	a.BridgeHandler = handlers.NewBridgeHandler(a.BridgeService, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, logger)

	logger.Info().
		Str("environment", cfg.Environment).
		Str("queue_backend", cfg.Queue.Backend).
		Str("provider", a.Provider.Name()).
		Msg("Application wired")

	return a, nil
}

// Start begins the background worker schedules
func (a *App) Start() error {
	return a.WorkerRunner.Start()
}

// Shutdown stops background work and releases resources
func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.WorkerRunner.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Logger.Warn().Msg("Worker runner stop timed out")
	case <-time.After(30 * time.Second):
		a.Logger.Warn().Msg("Worker runner stop timed out")
	}

	a.WSHandler.Close()

	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close event service")
	}

	queue.ResetDefault()

	if err := a.StorageManager.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	a.Logger.Info().Msg("Application shut down")
	return nil
}
