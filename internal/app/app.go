// Package app wires the store, the chat services, the scheduler and the
// HTTP server from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"anonchat/internal/api"
	"anonchat/internal/chat"
	"anonchat/internal/config"
	"anonchat/internal/cron"
	"anonchat/internal/identity"
	"anonchat/internal/logger"
	"anonchat/internal/presence"
	"anonchat/internal/render"
	"anonchat/internal/store"
)

// App orchestrates all components
type App struct {
	config *config.Config

	mu        sync.Mutex
	store     *store.SQLite
	sessions  *identity.Manager
	chat      *chat.Service
	presence  *presence.Tracker
	scheduler *cron.Scheduler
	apiServer *api.APIServer
	watcher   *config.ConfigWatcher
}

// New creates an application for cfg. Nothing is opened until Open.
func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Config returns the configuration in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// Open opens the store and builds the services. It is safe to call more
// than once.
func (a *App) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return nil
	}

	cfg := a.config
	logger.SetLevel(cfg.LogLevel)

	st, err := store.NewSQLite(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.store = st
	a.sessions = identity.NewManager(sessionOptions(cfg))
	a.chat = chat.NewService(st, chat.Options{
		MaxLength:    cfg.Chat.MaxLength,
		RateLimit:    cfg.Chat.RateLimit,
		RateWindow:   cfg.Chat.RateWindow,
		PageSize:     cfg.Chat.PageSize,
		PinnedLimit:  cfg.Chat.PinnedLimit,
		SendAttempts: cfg.Chat.SendAttempts,
		RetryBackoff: cfg.Chat.RetryBackoff,
	})
	a.presence = presence.NewTracker(st, cfg.Presence.OnlineWindow, cfg.Presence.HeartbeatInterval)
	a.scheduler = cron.NewScheduler()
	if err := cron.RegisterAll(a.scheduler, a.retentionJobs(cfg)); err != nil {
		st.Close()
		a.store = nil
		return fmt.Errorf("failed to register maintenance jobs: %w", err)
	}
	return nil
}

func sessionOptions(cfg *config.Config) identity.ManagerOptions {
	return identity.ManagerOptions{
		Validator: render.ValidatorOptions{
			BaseURL:      cfg.Server.PublicURL,
			MaxURLLength: cfg.Render.MaxURLLength,
			Prober:       render.NewHTTPProber(cfg.Render.ProbeTimeout, cfg.Render.AllowPrivate),
			ProbeTimeout: cfg.Render.ProbeTimeout,
		},
		CacheTTL:         cfg.Render.CacheTTL,
		CacheSize:        cfg.Render.CacheSize,
		ProbeConcurrency: cfg.Render.ProbeConcurrency,
		ConfirmTimeout:   cfg.Render.ConfirmTimeout,
		IdleTimeout:      cfg.Render.SessionIdle,
	}
}

func (a *App) retentionJobs(cfg *config.Config) []cron.Job {
	return cron.RetentionJobs(cron.RetentionPolicy{
		Schedule:        cfg.Cleanup.Schedule,
		RetentionDays:   cfg.Cleanup.RetentionDays,
		InactiveDays:    cfg.Cleanup.InactiveDays,
		IdempotencyDays: cfg.Cleanup.IdempotencyDays,
	}, a.chat, a.presence, a.store, time.Now)
}

// Store returns the document store. Open must have succeeded.
func (a *App) Store() *store.SQLite { return a.store }

// Chat returns the message service.
func (a *App) Chat() *chat.Service { return a.chat }

// Presence returns the presence tracker.
func (a *App) Presence() *presence.Tracker { return a.presence }

// Sessions returns the session manager.
func (a *App) Sessions() *identity.Manager { return a.sessions }

// Scheduler returns the maintenance scheduler.
func (a *App) Scheduler() *cron.Scheduler { return a.scheduler }

// Start opens the application and serves until ctx is done.
func (a *App) Start(ctx context.Context) error {
	if err := a.Open(); err != nil {
		return err
	}
	cfg := a.Config()

	if err := a.scheduler.Start(ctx); err != nil {
		logger.Warnf("app: failed to start cron scheduler: %v", err)
	}
	go a.sessions.Run(ctx)

	if cfg.ConfigPath != "" {
		w, err := config.NewConfigWatcher(cfg.ConfigPath, a.Apply)
		if err != nil {
			logger.Warnf("app: config hot reload disabled: %v", err)
		} else {
			a.mu.Lock()
			a.watcher = w
			a.mu.Unlock()
		}
	}

	a.apiServer = api.NewAPIServer(cfg.Server, api.Deps{
		Chat:      a.chat,
		Presence:  a.presence,
		Sessions:  a.sessions,
		Stats:     a.store,
		Scheduler: a.scheduler,
	})
	logger.Infof("app: serving %s on %s", cfg.Server.PublicURL, cfg.Server.Addr)
	return a.apiServer.Start(ctx)
}

// Apply takes over the parts of cfg that can change at runtime: log
// level, chat limits, the online window and the maintenance schedule.
// Anything else needs a restart.
func (a *App) Apply(cfg *config.Config) {
	a.mu.Lock()
	old := a.config
	a.config = cfg
	a.mu.Unlock()

	logger.SetLevel(cfg.LogLevel)
	if a.chat != nil {
		a.chat.SetLimits(cfg.Chat.MaxLength, cfg.Chat.RateLimit, cfg.Chat.RateWindow)
	}
	if a.presence != nil {
		a.presence.SetWindow(cfg.Presence.OnlineWindow)
	}
	if a.scheduler != nil && old.Cleanup != cfg.Cleanup {
		if err := cron.RegisterAll(a.scheduler, a.retentionJobs(cfg)); err != nil {
			logger.Errorf("app: maintenance jobs not updated: %v", err)
		} else {
			logger.Infof("app: maintenance schedule now %q", cfg.Cleanup.Schedule)
		}
	}
	if old.Server.Addr != cfg.Server.Addr || old.StoragePath != cfg.StoragePath {
		logger.Warnf("app: server address and storage path changes apply after a restart")
	}
}

// Close stops every component and closes the store.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	var errs []error
	if a.apiServer != nil {
		if err := a.apiServer.Stop(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("stop API server: %w", err))
		}
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.store = nil
	}
	return errors.Join(errs...)
}
