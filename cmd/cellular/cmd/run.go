package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cellular-dev/cellular"
	"github.com/cellular-dev/cellular/httpapi"
	"github.com/cellular-dev/cellular/logging"
	"github.com/cellular-dev/cellular/metrics"
	"github.com/cellular-dev/cellular/persist"
)

// NewRunCommand creates the run command, which hosts a demo unit hierarchy
// and serves the diagnostic API until interrupted.
func NewRunCommand() *cobra.Command {
	var (
		configPath string
		listen     string
		dataDir    string
		sqlitePath string
		jsonLogs   bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a cellular runtime with the diagnostic API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuntime(configPath, listen, dataDir, sqlitePath, jsonLogs, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML or TOML configuration file")
	cmd.Flags().StringVarP(&listen, "listen", "l", ":8080", "address for the diagnostic HTTP API")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for file-based snapshots")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "path to a SQLite snapshot database (overrides --data-dir)")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs instead of console output")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload thresholds when the config file changes")

	return cmd
}

func runRuntime(configPath, listen, dataDir, sqlitePath string, jsonLogs, watch bool) error {
	logger := buildLogger(jsonLogs)

	cfg := cellular.DefaultConfig()
	if configPath != "" {
		loaded, err := cellular.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	store, err := buildStore(dataDir, sqlitePath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	opts := []cellular.Option{
		cellular.WithConfig(cfg),
		cellular.WithLogger(logger),
		cellular.WithRecorder(recorder),
		cellular.WithRecoveryLadder(cellular.DefaultLadder(nil)...),
	}
	if store != nil {
		opts = append(opts, cellular.WithSnapshotStore(store))
	}

	framework, err := cellular.New(opts...)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := framework.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := framework.Stop(stopCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := seedHierarchy(framework); err != nil {
		return err
	}

	if watch && configPath != "" {
		watcher, err := cellular.WatchConfig(configPath, framework.ApplyConfig, logger)
		if err != nil {
			return err
		}
		defer watcher.Stop()
	}

	server := &http.Server{
		Addr:              listen,
		Handler:           httpapi.NewRouter(framework, logger, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("diagnostic API listening", "addr", listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func buildLogger(jsonLogs bool) cellular.Logger {
	if jsonLogs {
		return logging.NewJSON(os.Stderr)
	}
	return logging.NewConsole()
}

func buildStore(dataDir, sqlitePath string) (cellular.SnapshotStore, error) {
	switch {
	case sqlitePath != "":
		return persist.NewSQLiteStore(sqlitePath)
	case dataDir != "":
		return persist.NewFileStore(dataDir)
	default:
		return nil, nil
	}
}

// seedHierarchy creates a small supervisor/worker tree so the diagnostic API
// has something to show: one composite with an ingest worker on the critical
// path and two processing workers beside it.
func seedHierarchy(f *cellular.Framework) error {
	supervisor, err := f.Create(cellular.UnitConfig{
		ID: "supervisor", Name: "supervisor", Reason: "demo topology",
	})
	if err != nil {
		return err
	}

	workers := []struct {
		id       string
		critical bool
	}{
		{"ingest", true},
		{"transform", false},
		{"publish", false},
	}
	for _, w := range workers {
		u, err := f.Create(cellular.UnitConfig{
			ID: w.id, Name: w.id, Reason: "demo topology",
			Properties: map[string]any{
				cellular.PropErrorRate:  0.0,
				cellular.PropQueueDepth: 0,
			},
		})
		if err != nil {
			return err
		}
		// A worker restored from a snapshot may already be active.
		if u.State() == cellular.StateReady {
			if err := u.Transition(cellular.StateActive); err != nil {
				return err
			}
		}
		if err := f.AttachChild(supervisor.ID(), u.ID(), w.critical); err != nil {
			return err
		}
	}

	return nil
}
