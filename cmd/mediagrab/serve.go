package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/mediagrab/api"
	"github.com/use-agent/mediagrab/api/handler"
	"github.com/use-agent/mediagrab/cache"
	"github.com/use-agent/mediagrab/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "Override MEDIAGRAB_PORT")
	serveCmd.Flags().Bool("static-only", false, "Do not launch Chrome; only static mode is served")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := loadConfig()
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	staticOnly, _ := cmd.Flags().GetBool("static-only")

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log, os.Stdout)
	slog.Info("mediagrab starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
		"staticOnly", staticOnly,
	)

	// ── 3. Initialise engine (launches browser) ─────────────────────
	svc, err := newServices(cfg, !staticOnly)
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}
	defer svc.Close()

	// ── 4. Sessions, jobs and webhooks ──────────────────────────────
	sessions := cache.New(cfg.Session.MaxEntries, cfg.Session.TTL)
	defer sessions.Close()
	jobs := handler.NewJobStore(cfg.Session.TTL)
	defer jobs.Close()

	// ── 5. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(api.Deps{
		Pages:     svc.pages,
		Engine:    svc.engine,
		Downloads: svc.downloads,
		Sessions:  sessions,
		Jobs:      jobs,
		Notifier:  &webhook.Notifier{},
		StartTime: time.Now(),
	}, cfg)

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errc:
		return fmt.Errorf("HTTP server: %w", err)
	}

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("mediagrab stopped")
	return nil
}
