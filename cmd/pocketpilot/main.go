package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/pocketpilot/internal/api/handlers"
	"github.com/dvloznov/pocketpilot/internal/backend"
	"github.com/dvloznov/pocketpilot/internal/categorize"
	"github.com/dvloznov/pocketpilot/internal/config"
	"github.com/dvloznov/pocketpilot/internal/export"
	"github.com/dvloznov/pocketpilot/internal/jobs"
	"github.com/dvloznov/pocketpilot/internal/jobs/inmemory"
	"github.com/dvloznov/pocketpilot/internal/logger"
	"github.com/dvloznov/pocketpilot/internal/notify"
	"github.com/dvloznov/pocketpilot/internal/session"
	"github.com/dvloznov/pocketpilot/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var (
		port         = flag.String("port", cfg.HTTPPort, "HTTP server port")
		seedEmail    = flag.String("seed-email", "", "Create this user at startup (memory backend only)")
		seedPassword = flag.String("seed-password", "", "Password for -seed-email")
		categorizer  = flag.Bool("categorize", true, "Enable AI category suggestions")
	)
	flag.Parse()

	log := logger.NewWithLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	remoteClient, err := backend.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("Failed to open backend")
	}
	defer remoteClient.Close()

	if *seedEmail != "" {
		if cfg.Backend != config.BackendMemory {
			log.Fatal().Msg("-seed-email is only supported with the memory backend")
		}
		hash, err := session.HashPassword(*seedPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash seed password")
		}
		if _, err := remoteClient.CreateUser(ctx, *seedEmail, hash); err != nil {
			log.Fatal().Err(err).Msg("Failed to create seed user")
		}
		log.Info().Str("email", *seedEmail).Msg("Seed user created")
	}

	// Session and entity stores
	sessions := session.NewManager(session.NewPasswordAuthenticator(remoteClient, cfg.SessionTTL), cfg.SessionTTL, log)

	// Registered before the stores so a new user's settings are loaded
	// before their snapshots trigger any checks.
	settings := notify.NewSettingsStore(remoteClient, log)
	defer settings.Follow(sessions)()

	txs := store.NewTransactions(remoteClient, sessions, log)
	budgets := store.NewBudgets(remoteClient, sessions, log)
	accounts := store.NewAccounts(remoteClient, sessions, log)
	notes := store.NewNotifications(remoteClient, sessions, log)
	for _, s := range []interface {
		Start(context.Context)
		Close()
	}{txs, budgets, accounts, notes} {
		s.Start(ctx)
		defer s.Close()
	}

	// Notifications
	sink := notify.MultiSink{notify.NewRemoteSink(notes)}
	if cfg.AMQPURL != "" {
		push, err := notify.NewAMQPSink(cfg.AMQPURL, cfg.AMQPQueue, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to message broker")
		}
		defer push.Close()
		sink = append(sink, notify.NewQuietHoursSink(push, settings))
	} else {
		log.Warn().Msg("No AMQP_URL configured - push notifications are disabled")
	}

	engine := notify.NewEngine(notify.Sources{
		UserID:        sessions.UserID,
		Transactions:  txs.Snapshot,
		Budgets:       budgets.Snapshot,
		Accounts:      accounts.Snapshot,
		Notifications: notes.Snapshot,
	}, sink, settings, cfg.LowBalanceThreshold, log)

	engineCtx, cancelEngine := context.WithCancel(ctx)
	defer cancelEngine()
	engine.Watch(engineCtx, txs, budgets, accounts)
	engine.Require(notes)
	if err := engine.Schedule(engineCtx, cfg.NotifySchedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule reminders")
	}

	// Export jobs
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore, log)

	runner := export.NewRunner(export.BackendSnapshot(remoteClient), log)
	runner.Register(jobs.DestinationDir, export.DirDestination{Dir: cfg.ExportDir})
	if cfg.GCSBucket != "" {
		gcs, err := export.NewGCSDestination(ctx, cfg.GCSBucket, "exports")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create GCS destination")
		}
		defer gcs.Close()
		runner.Register(jobs.DestinationGCS, gcs)
	}
	if cfg.NotionToken != "" {
		runner.SetMirror(export.NewNotionMirror(export.NewNotionClient(cfg.NotionToken), cfg.NotionDatabaseID, log))
	}

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Strs("destinations", runner.Destinations()).Msg("Starting export worker")
		if err := jobQueue.Start(workerCtx, runner.Handle); err != nil {
			log.Error().Err(err).Msg("Export worker stopped with error")
		}
	}()

	// Category suggestions are optional; the API runs without them.
	var suggester handlers.Suggester
	if *categorizer {
		model, err := categorize.NewGenAIModel(ctx, cfg.GenAIModel)
		if err != nil {
			log.Warn().Err(err).Msg("Category suggestions disabled")
		} else {
			suggester = categorize.NewSuggester(model, log)
		}
	}

	router := handlers.NewRouter(handlers.Deps{
		Session:       sessions,
		Transactions:  txs,
		Budgets:       budgets,
		Accounts:      accounts,
		Notifications: notes,
		Settings:      settings,
		Publisher:     jobQueue,
		Jobs:          jobStore,
		Destinations:  runner.Destinations(),
		Suggester:     suggester,
	}, log)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Str("backend", cfg.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()
	engine.Stop()
	cancelEngine()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Wait for in-flight exports
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
