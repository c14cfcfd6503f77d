// Package daemon composes the synchronization core into a long-running
// process: config, lock, durable cache, provider client, realtime
// transport, read-receipt batcher and the facade, wired through fx.
package daemon

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"pombo/internal/bus"
	"pombo/internal/config"
	"pombo/internal/core"
	"pombo/internal/lock"
	"pombo/internal/logging"
	"pombo/internal/provider"
	"pombo/internal/receipt"
	"pombo/internal/store"
	"pombo/internal/transport"
)

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideClient,
			provideStateMachine,
			provideTransport,
			provideBatcher,
			provideFacade,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}
	logger.Info("acquiring daemon lock", zap.String("path", cfg.LockPath()))
	l, err := lock.Acquire(cfg.LockPath())
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, err
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config, logger *zap.Logger) *provider.Client {
	return provider.NewClient(cfg.Provider, logger)
}

func provideStateMachine(b *bus.Bus) *transport.Machine {
	return transport.NewMachine(b)
}

func provideTransport(cfg *config.Config, b *bus.Bus, machine *transport.Machine, logger *zap.Logger) *transport.Transport {
	return transport.New(cfg.Provider, cfg.ReconnectDelay(), b, machine, logger)
}

func provideBatcher(cfg *config.Config, client *provider.Client, logger *zap.Logger) *receipt.Batcher {
	return receipt.New(client, cfg.ReceiptFlushInterval(), logger)
}

func provideFacade(cfg *config.Config, client *provider.Client, batcher *receipt.Batcher, db *store.DB, b *bus.Bus, logger *zap.Logger) *core.Facade {
	return core.NewFacade(client, batcher, db, b, logger, core.Options{
		SendTimeout: cfg.SendTimeout(),
		EchoWindow:  cfg.EchoWindow(),
		PageSize:    cfg.Sync.PageSize,
	})
}

func registerLifecycle(lc fx.Lifecycle, facade *core.Facade, batcher *receipt.Batcher, tr *transport.Transport, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Warm the core from the cache before the transport brings
			// fresh data.
			convs, err := db.ListConversations(10000, 0)
			if err != nil {
				logger.Warn("warm load conversations failed", zap.Error(err))
			}
			msgs, err := db.AllMessages()
			if err != nil {
				logger.Warn("warm load messages failed", zap.Error(err))
			}
			facade.Warm(convs, msgs)
			logger.Info("warm start",
				zap.Int("conversations", len(convs)),
				zap.Int("messages", len(msgs)))

			facade.Start(context.Background())
			batcher.Start(context.Background())
			tr.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			tr.Stop()
			batcher.Stop()
			facade.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
