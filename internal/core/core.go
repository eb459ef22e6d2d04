// Package core assembles the lifecycle engine, event log, fan-out
// consumers, and background sweeps into one runnable unit. The
// surrounding product supplies the directory and access-grant
// collaborators and calls the engine's operations.
package core

import (
	"fmt"
	"log/slog"

	"github.com/nhle/cardflow/internal/collab"
	"github.com/nhle/cardflow/internal/credential"
	"github.com/nhle/cardflow/internal/entropy"
	"github.com/nhle/cardflow/internal/eventlog"
	"github.com/nhle/cardflow/internal/fanout"
	"github.com/nhle/cardflow/internal/lifecycle"
	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/internal/notify"
	"github.com/nhle/cardflow/internal/store"
	"github.com/nhle/cardflow/internal/webhook"
)

// Core wires every component of the event-driven card core.
type Core struct {
	Store      *store.SQLiteStore
	Engine     *lifecycle.Engine
	Log        *eventlog.Log
	Router     *notify.Router
	Bundler    *notify.Bundler
	Webhooks   *webhook.Dispatcher
	Entropy    *entropy.Scheduler
	dispatcher *fanout.Dispatcher
}

// Open builds a Core over the SQLite database at dbPath, configured
// by cfg, with the given collaborators.
func Open(
	dbPath string,
	cfg *model.AppConfig,
	directory collab.Directory,
	access collab.AccessGranter,
	logger *slog.Logger,
) (*Core, error) {
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	dispatcher := fanout.New(logger, cfg.Workers, 256)
	log := eventlog.New(s, dispatcher, logger)
	engine := lifecycle.New(s, log, directory, access, logger)

	smtpPassword, err := credential.SMTPPassword()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("reading smtp credential: %w", err)
	}
	mailer := notify.NewSMTPMailer(
		fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port),
		cfg.SMTP.Username, smtpPassword, cfg.SMTP.From,
	)

	bundler := notify.NewBundler(s, directory, mailer, cfg.BundleInterval(), logger)
	router := notify.NewRouter(s, directory, bundler, engine, logger)
	webhooks := webhook.NewDispatcher(s, cfg.WebhookTimeout(), cfg.Webhook.MaxResponseBytes, logger)

	log.Subscribe(router)
	log.Subscribe(webhooks)

	sweeper := entropy.New(s, engine, cfg.EntropyInterval(), logger)

	return &Core{
		Store:      s,
		Engine:     engine,
		Log:        log,
		Router:     router,
		Bundler:    bundler,
		Webhooks:   webhooks,
		Entropy:    sweeper,
		dispatcher: dispatcher,
	}, nil
}

// Start launches the background sweeps.
func (c *Core) Start() {
	c.Entropy.Start()
	c.Bundler.Start()
}

// Close stops background work and releases the store. In-flight
// fan-out tasks drain before the database closes.
func (c *Core) Close() error {
	c.Entropy.Stop()
	c.Bundler.Stop()
	c.dispatcher.Stop()
	return c.Store.Close()
}
