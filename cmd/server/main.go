package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/dpmconv/internal/config"
	"github.com/JonMunkholm/dpmconv/internal/core"
	_ "github.com/JonMunkholm/dpmconv/internal/core/rules" // Register all kinds
	"github.com/JonMunkholm/dpmconv/internal/logging"
	"github.com/JonMunkholm/dpmconv/internal/store"
	"github.com/JonMunkholm/dpmconv/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"max_concurrent_runs", cfg.Pipeline.MaxConcurrentRuns,
		"schedule", cfg.Pipeline.Schedule,
	)

	patterns, err := cfg.Pipeline.Patterns()
	if err != nil {
		log.Error("failed to load framework patterns", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	if st != nil {
		defer st.Close()
	}

	svcCfg := core.ServiceConfig{
		SourceDir:  cfg.Pipeline.SourceDir,
		Workers:    cfg.Pipeline.Workers,
		BatchSize:  cfg.Pipeline.BatchSize,
		Defaults:   cfg.Pipeline.Defaults(),
		Patterns:   patterns,
		Document:   cfg.Pipeline.DocumentOptions(),
		Limiter:    core.NewRunLimiter(cfg.Pipeline.MaxConcurrentRuns, cfg.Pipeline.MaxWaitTime),
		RunTimeout: cfg.Pipeline.RunTimeout,
		Retention:  cfg.Pipeline.RunRetention,
		Logger:     log,
	}
	// Only a real store is wired; a nil interface must stay nil.
	var rows web.RowStore
	if st != nil {
		svcCfg.Sink = st
		rows = st
		if cfg.Database.ReadReferences {
			svcCfg.References = func(string) core.ReferenceSource { return st }
		}
	}
	service := core.NewService(svcCfg)

	log.Info("kinds registered", "count", core.RuleCount())

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Pipeline.Schedule != "" {
		sched, err := core.NewScheduler(service, core.ScheduleConfig{Spec: cfg.Pipeline.Schedule})
		if err != nil {
			log.Error("failed to create scheduler", "error", err)
			os.Exit(1)
		}
		go sched.Start(jobCtx)
	}

	server := web.NewServer(cfg.Server, service, rows, log)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}

		// Stop active runs and wait for them to release their slots
		if status := service.Limiter().Status(); status.Active > 0 {
			log.Info("cancelling active runs", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			log.Warn("runs did not stop in time", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
