package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/PortExtender/internal/api/rest"
	"github.com/KevinKickass/PortExtender/internal/api/rpc"
	"github.com/KevinKickass/PortExtender/internal/api/websocket"
	"github.com/KevinKickass/PortExtender/internal/auth"
	"github.com/KevinKickass/PortExtender/internal/bus"
	"github.com/KevinKickass/PortExtender/internal/config"
	"github.com/KevinKickass/PortExtender/internal/devices"
	"github.com/KevinKickass/PortExtender/internal/host"
	"github.com/KevinKickass/PortExtender/internal/interfaces"
	"github.com/KevinKickass/PortExtender/internal/storage"
	"github.com/KevinKickass/PortExtender/internal/types"
	"go.uber.org/zap"
)

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	buses  *bus.Registry
	store  storage.ConfigStore
	pg     *storage.PostgresClient
	host   *host.Adapter
	engine *devices.Manager

	authService *auth.AuthService
	wsHub       *websocket.Hub
	restServer  *rest.Server
	grpcServer  *rpc.Server

	hubCancel context.CancelFunc
	startedAt time.Time

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    error

	shutdownOnce sync.Once
}

func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		currentState: StateInitializing,
	}

	lm.buses = openBuses(cfg.Bus, logger)

	switch cfg.Storage.Backend {
	case "postgres":
		pg, err := storage.NewPostgresClient(ctx, cfg.Database)
		if err != nil {
			lm.buses.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		lm.pg = pg
		lm.store = pg
		logger.Info("Database connected successfully")
	default:
		lm.store = storage.NewFileStore(cfg.Storage.Path)
	}

	lm.host = host.NewAdapter(types.HostState{
		StationCount: cfg.Host.StationCount,
		Stations:     make([]bool, cfg.Host.StationCount),
		ActiveLow:    cfg.Host.ActiveLow,
	}, logger)

	engine, err := devices.NewManager(lm.buses, lm.store, lm.host, cfg.Bus.DefaultBus, logger)
	if err != nil {
		lm.closeResources()
		return nil, fmt.Errorf("failed to create configuration engine: %w", err)
	}
	lm.engine = engine

	if !cfg.Auth.IsProductionReady() {
		logger.Warn("JWT secret is not production ready",
			zap.String("env", cfg.Auth.JWTSecretEnv))
	}
	lm.authService = auth.NewAuthService(cfg.Auth, logger)
	lm.wsHub = websocket.NewHub(logger, lm.authService, engine)
	lm.restServer = rest.NewServer(cfg, lm, logger, lm.wsHub, lm.authService)
	lm.grpcServer = rpc.NewServer(engine, lm.authService, logger)

	engine.OnStatus(lm.wsHub.PublishStatus)
	engine.OnStatus(func(r types.StatusReport) {
		lm.grpcServer.SetStatus(r.Status)
	})
	engine.OnStatus(func(r types.StatusReport) {
		logger.Info("Port extender status changed",
			zap.String("status", string(r.Status)),
			zap.Int("devices", r.DeviceCount),
			zap.String("warning", r.WarnMsg))
	})

	return lm, nil
}

// openBuses prefers the periph drivers and falls back to the simulated bus.
func openBuses(cfg config.BusConfig, logger *zap.Logger) *bus.Registry {
	sim := bus.NewSimulated(logger, cfg.Addresses()...)

	if cfg.Simulate {
		logger.Info("Bus simulation requested, running in demo mode")
		return bus.NewRegistry(nil, sim, true, logger)
	}

	if err := bus.InitHost(); err != nil {
		logger.Warn("No I2C hardware, running in demo mode", zap.Error(err))
		return bus.NewRegistry(nil, sim, true, logger)
	}
	return bus.NewRegistry(bus.OpenPeriph, sim, false, logger)
}

// Start loads the persisted configuration and starts the API servers.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting PortExtender", zap.Bool("demo", lm.buses.Demo()))
	lm.startedAt = time.Now()

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)

	// An unusable configuration leaves the engine unconfigured; the API
	// stays up so it can be corrected.
	if err := lm.engine.Load(ctx, lm.host.Snapshot()); err != nil {
		lm.logger.Warn("Port extender not running after load", zap.Error(err))
	}

	grpcErr, err := lm.grpcServer.Start(lm.config.Server.GRPCPort)
	if err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}
	restErr := lm.restServer.Start()

	go lm.watch(grpcErr, restErr)

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("storage", lm.config.Storage.Backend))

	return nil
}

// watch flips the state to error when a server dies outside of shutdown.
func (lm *LifecycleManager) watch(grpcErr, restErr <-chan error) {
	for grpcErr != nil || restErr != nil {
		select {
		case err, ok := <-grpcErr:
			if !ok {
				grpcErr = nil
				continue
			}
			lm.setError(fmt.Errorf("gRPC server: %w", err))
		case err, ok := <-restErr:
			if !ok {
				restErr = nil
				continue
			}
			lm.setError(fmt.Errorf("REST server: %w", err))
		}
	}
}

// Shutdown drives every expander to off, then stops the servers.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		if err := lm.engine.Shutdown(); err != nil {
			lm.logger.Warn("Not every expander could be switched off", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		if lm.hubCancel != nil {
			lm.hubCancel()
		}
		lm.closeResources()

		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.logger.Info("Stopping gRPC server")
		lm.grpcServer.GracefulStop()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(errChan)
		var errs []error
		for err := range errChan {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		lm.grpcServer.Stop()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (lm *LifecycleManager) closeResources() {
	if err := lm.buses.Close(); err != nil {
		lm.logger.Warn("Failed to close I2C buses", zap.Error(err))
	}
	if lm.pg != nil {
		lm.pg.Close()
	}
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if lm.currentState == StateStopping || lm.currentState == StateStopped {
		return
	}
	lm.currentState = StateError
	lm.lastError = err
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) Config() *config.Config   { return lm.config }
func (lm *LifecycleManager) Engine() *devices.Manager { return lm.engine }
func (lm *LifecycleManager) Host() *host.Adapter      { return lm.host }
func (lm *LifecycleManager) Demo() bool               { return lm.buses.Demo() }

// Simulated returns the in-memory bus, also present outside demo mode.
func (lm *LifecycleManager) Simulated() *bus.Simulated { return lm.buses.Simulated() }

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lastError := lm.lastError
	lm.stateMu.RUnlock()

	var uptime int64
	if !lm.startedAt.IsZero() {
		uptime = int64(time.Since(lm.startedAt).Seconds())
	}

	status := interfaces.SystemStatus{
		State:            state.String(),
		Demo:             lm.buses.Demo(),
		StorageBackend:   lm.config.Storage.Backend,
		UptimeSeconds:    uptime,
		ConnectedClients: lm.wsHub.GetClientCount(),
		Pex:              lm.engine.Status(),
	}
	if lastError != nil {
		status.Error = lastError.Error()
	}
	return status
}
