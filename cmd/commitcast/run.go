package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	discordadapter "github.com/ericfisherdev/commitcast/internal/adapter/driven/discord"
	githubadapter "github.com/ericfisherdev/commitcast/internal/adapter/driven/github"
	"github.com/ericfisherdev/commitcast/internal/adapter/driven/memory"
	sqliteadapter "github.com/ericfisherdev/commitcast/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/commitcast/internal/adapter/driving/http"
	"github.com/ericfisherdev/commitcast/internal/application"
	"github.com/ericfisherdev/commitcast/internal/config"
	"github.com/ericfisherdev/commitcast/internal/domain/port/driven"
)

// monitorStopTimeout bounds the wait for an in-flight cycle after shutdown
// starts. A cycle can spend three 15s fetch attempts plus 3s of backoff on a
// target before its Discord sends, so this sits well above that.
const monitorStopTimeout = 3 * time.Minute

func run(parent context.Context, cfg *config.Config) error {
	settings := cfg.Settings()

	// 1. Configuration is already validated; log what was loaded.
	slog.Info("config loaded",
		"targets", len(settings.Targets),
		"poll_interval", settings.PollInterval,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"github_auth", settings.SourceAPIToken != "",
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the announcement log when a database path is configured.
	var announcements driven.AnnouncementStore
	if cfg.DBPath != "" {
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		slog.Info("database opened", "path", cfg.DBPath)

		schemaVersion, err := sqliteadapter.RunMigrations(db.Writer)
		if err != nil {
			return err
		}
		slog.Info("migrations complete", "schema_version", schemaVersion)

		announcements = sqliteadapter.NewAnnouncementRepo(db)
	} else {
		slog.Info("no db_path configured, announcement log disabled")
	}

	// 4. Create the GitHub commit source (unauthenticated without a token).
	source := githubadapter.NewClient(settings.SourceAPIToken)
	if settings.SourceAPIToken == "" {
		slog.Warn("no github token configured, using unauthenticated rate limits")
	}

	// 5. Connect the Discord bot.
	chat, err := discordadapter.NewClient(cfg.DiscordToken)
	if err != nil {
		return err
	}
	if err := chat.Open(); err != nil {
		return err
	}
	defer func() {
		if closeErr := chat.Close(); closeErr != nil {
			slog.Error("error closing discord session", "error", closeErr)
		}
	}()

	// 6. Create the monitor and start polling.
	monitor := application.NewMonitorService(
		settings,
		source,
		chat,
		memory.NewWatermarkStore(),
		announcements,
	)

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(ctx)
	}()

	// 7. Serve the status API when a listen address is configured.
	var srv *http.Server
	if cfg.ListenAddr != "" {
		apiHandler := httphandler.NewHandler(monitor, announcements, slog.Default())
		srv = &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			// POST /api/v1/poll waits for a whole cycle.
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  120 * time.Second,
		}

		go func() {
			slog.Info("http server starting", "addr", cfg.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	// 8. Log startup complete.
	slog.Info("commitcast started",
		"version", version,
		"targets", len(settings.Targets),
		"poll_interval", settings.PollInterval,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown: stop serving, then let an in-flight cycle finish.
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}

	if err := waitForMonitor(monitorDone, monitorStopTimeout); err != nil {
		return err
	}

	// 11. Log shutdown complete.
	slog.Info("shutdown complete")
	return nil
}

// waitForMonitor blocks until done is closed or timeout elapses. The wait
// starts fresh so time spent draining the HTTP server is not charged to the
// cycle.
func waitForMonitor(done <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("monitor did not stop within %s", timeout)
	}
}
