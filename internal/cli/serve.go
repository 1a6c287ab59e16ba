package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrovista/agromonitor/internal/server"
	"github.com/agrovista/agromonitor/pkg/monitor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring API server",
	Long: `Run the HTTP API for consumption recording, threshold management, alerts,
and notification preferences. When sweep.interval is configured, a periodic
re-evaluation of all active resources runs alongside the server.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger := newLogger(cfg)

	engine, store, err := initEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	apiServer := server.NewServer(engine, logger)

	readTimeout, _ := time.ParseDuration(cfg.Server.ReadTimeout)
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout, _ := time.ParseDuration(cfg.Server.WriteTimeout)
	if writeTimeout == 0 {
		writeTimeout = 60 * time.Second
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if interval, _ := time.ParseDuration(cfg.Sweep.Interval); interval > 0 {
		go runSweepLoop(sweepCtx, engine, interval, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agromonitor started", "listen", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		stopSweep()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("agromonitor stopped")
	return nil
}

// runSweepLoop re-evaluates all resources on a fixed interval. A TryLock
// skips a tick when the previous sweep is still running.
func runSweepLoop(ctx context.Context, engine *monitor.Engine, interval time.Duration, logger *slog.Logger) {
	var running sync.Mutex
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !running.TryLock() {
				logger.Info("sweep still running, skipping tick")
				continue
			}
			created, err := engine.Evaluator.Sweep(ctx)
			running.Unlock()
			if err != nil {
				logger.Error("periodic sweep failed", "error", err)
				continue
			}
			if len(created) > 0 {
				logger.Info("periodic sweep finished", "alerts_created", len(created))
			}
		}
	}
}
