// Reminder Scheduler — рассылает due напоминания.
//
// Использование:
//
//	reminder-scheduler [--json] <command> [flags]
//
// Команды:
//
//	serve     Dispatch-цикл с fixed-delay + /healthz и /metrics
//	dispatch  Один dispatch-цикл
//	due       Список due напоминаний
//	show      Одно напоминание
//	migrate   Управление схемой БД
//
// Несколько экземпляров serve можно запускать одновременно:
// рассылку в каждый момент выполняет только владелец lock.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Reminders/internal/cli"
	"github.com/shaiso/Reminders/internal/config"
	"github.com/shaiso/Reminders/internal/repo"
	"github.com/shaiso/Reminders/internal/scheduler"
	"github.com/shaiso/Reminders/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	a := &app{cfg: cfg, logger: logger}

	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "reminder-scheduler",
		Short:         "Reminder scheduler — dispatches due reminder emails",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	runnerFn := func(ctx context.Context) (cli.CycleRunner, error) {
		d, err := a.dispatcher(ctx, nil)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	migratorFn := func() cli.Migrator { return repo.Migrator{DSN: cfg.DatabaseURL} }

	rootCmd.AddCommand(
		newServeCmd(a),
		cli.NewDispatchCmd(runnerFn, outputFn),
		cli.NewDueCmd(a.reader, outputFn),
		cli.NewShowCmd(a.reader, outputFn),
		cli.NewMigrateCmd(migratorFn, outputFn),
	)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		a.close()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCmd(a *app) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch loop until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before start")

	return cmd
}

func serve(ctx context.Context, a *app, migrate bool) error {
	logger := a.logger
	logger.Info("starting reminder-scheduler", "version", version)

	if migrate {
		if err := repo.RunMigrations(a.cfg.DatabaseURL); err != nil {
			return err
		}
	}

	metrics := telemetry.NewDispatchMetrics(prometheus.DefaultRegisterer)
	d, err := a.dispatcher(ctx, metrics)
	if err != nil {
		return err
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + a.cfg.SchedulerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		d.Run(ctx)
		return nil
	})

	if a.cfg.Heartbeat.Enabled {
		hb, err := scheduler.NewHeartbeat(scheduler.HeartbeatConfig{
			Interval: a.cfg.Heartbeat.Interval,
			Cron:     a.cfg.Heartbeat.Cron,
			Logger:   telemetry.WithComponent(logger, "heartbeat"),
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return hb.Run(ctx)
		})
	}

	err = g.Wait()
	logger.Info("reminder-scheduler stopped")
	return err
}
