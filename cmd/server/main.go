/*
main.go - Application entry point

PURPOSE:
  Starts the car insurance API together with the policy expiration
  monitor. Handles configuration, dependency injection, and graceful
  shutdown.

COMMANDS:
  serve    (default) HTTP API + expiration monitor
  migrate  Create the schema and exit
  seed     Insert demo data into an empty database
  scan     Run one startup reconciliation pass and exit

STARTUP SEQUENCE (serve):
  1. Load configuration (.env, environment, flags)
  2. Open and migrate the store
  3. Seed demo data if enabled
  4. Start the HTTP server and the expiration monitor
  5. Wait for SIGINT/SIGTERM

FLAGS (override environment):
  --db      Database path or DSN (DATABASE_URL)
  --driver  sqlite or postgres (DATABASE_DRIVER)
  --addr    HTTP listen address (HTTP_ADDR)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Let a running monitor pass finish
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server --db=./data/carinsurance.db

  # Run against PostgreSQL
  DATABASE_DRIVER=postgres DATABASE_URL=postgres://localhost/cars ./server

  # One-off reconciliation
  ./server scan

SEE ALSO:
  - api/server.go: Router configuration
  - monitor/monitor.go: Expiration monitor
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/warp/car-insurance/api"
	"github.com/warp/car-insurance/config"
	"github.com/warp/car-insurance/insurance"
	"github.com/warp/car-insurance/logger"
	"github.com/warp/car-insurance/monitor"
	"github.com/warp/car-insurance/store/sqldb"
)

const shutdownTimeout = 30 * time.Second

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "carinsurance",
		Short:         "Car insurance API with policy expiration monitor",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	rootCmd.PersistentFlags().String("db", "", "database path or DSN (overrides DATABASE_URL)")
	rootCmd.PersistentFlags().String("driver", "", "database driver: sqlite or postgres (overrides DATABASE_DRIVER)")
	rootCmd.PersistentFlags().String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(scanCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiration monitor",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.store.Close()

			env.log.Info("Schema is up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo data into an empty database",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.store.Close()

			return seed(cmd.Context(), env)
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one startup reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			defer env.store.Close()

			mon, err := newMonitor(env, nil)
			if err != nil {
				return err
			}
			res := mon.ReconcileStartup(cmd.Context())
			if res.Err != nil {
				return fmt.Errorf("reconciliation failed: %w", res.Err)
			}

			env.log.WithFields(logrus.Fields{
				"candidates": res.Candidates,
				"notified":   res.Notified,
				"suppressed": res.Suppressed,
			}).Info("Reconciliation complete")
			return nil
		},
	}
}

// =============================================================================
// SERVE
// =============================================================================

func runServe(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.store.Close()

	if env.cfg.SeedData {
		if err := seed(cmd.Context(), env); err != nil {
			return err
		}
	}

	mon, err := newMonitor(env, monitor.NewMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}

	handler := api.NewHandler(insurance.NewService(env.store), mon, env.store, env.log)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: env.cfg.CORSOrigins})

	server := &http.Server{
		Addr:         env.cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		env.log.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		env.log.Infof("Expiration monitor started with check interval: %v", monitor.Interval)
		return mon.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		env.log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	env.log.Info("Server stopped")
	return nil
}

// =============================================================================
// WIRING
// =============================================================================

type appEnv struct {
	cfg   *config.AppConfig
	log   *logrus.Logger
	store *sqldb.Store
}

// setup loads configuration, applies flag overrides and opens the store.
func setup(cmd *cobra.Command) (*appEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	applyFlags(cmd, cfg)

	log := logger.New(cfg.LogLevel, cfg.Environment)

	driver, err := sqldb.ParseDriver(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	store, err := sqldb.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	log.WithField("driver", driver).Info("Database ready")

	return &appEnv{cfg: cfg, log: log, store: store}, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.AppConfig) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DatabaseURL, _ = flags.GetString("db")
	}
	if flags.Changed("driver") {
		cfg.DatabaseDriver, _ = flags.GetString("driver")
	}
	if flags.Changed("addr") {
		cfg.HTTPAddr, _ = flags.GetString("addr")
	}
}

func seed(ctx context.Context, env *appEnv) error {
	inserted, err := insurance.Seed(ctx, env.store)
	if err != nil {
		return fmt.Errorf("seed demo data: %w", err)
	}
	if inserted {
		env.log.Info("Demo data inserted")
	}
	return nil
}

func newMonitor(env *appEnv, metrics *monitor.Metrics) (*monitor.Monitor, error) {
	opts := []monitor.Option{
		monitor.WithLogger(env.log),
		monitor.WithMetrics(metrics),
	}

	if env.cfg.TelegramEnabled() {
		tg, err := monitor.NewTelegramNotifier(env.cfg.TelegramToken, env.cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, monitor.WithNotifiers(tg))
		env.log.WithField("chat_id", env.cfg.TelegramChatID).Info("Forwarding expirations to Telegram")
	}

	return monitor.New(env.store, opts...), nil
}
