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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Diegomcha/netquery/internal/artifact"
	"github.com/Diegomcha/netquery/internal/observability"
	"github.com/Diegomcha/netquery/internal/orchestrator"
	"github.com/Diegomcha/netquery/web/api"
)

var (
	serveHost    string
	servePort    int
	serveWorkers int
	serveJobTTL  time.Duration
	serveMaxJobs int
	serveMetrics bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web API server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&serveHost, "host", "", "address to listen on")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port to listen on")
	serveCmd.Flags().IntVarP(&serveWorkers, "workers", "w", 0, "concurrent sessions per job")
	serveCmd.Flags().DurationVar(&serveJobTTL, "job-ttl", 0, "how long unobserved jobs stay registered")
	serveCmd.Flags().IntVar(&serveMaxJobs, "max-jobs", 0, "how many jobs stay registered at once")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", false, "serve Prometheus metrics on /metrics")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// CLI flags override config (only if explicitly set)
	if cmd.Flags().Changed("host") {
		cfg.Web.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Web.Port = servePort
	}
	if cmd.Flags().Changed("workers") {
		cfg.Orchestrator.Workers = serveWorkers
	}
	if cmd.Flags().Changed("job-ttl") {
		cfg.Web.JobTTL.Duration = serveJobTTL
	}
	if cmd.Flags().Changed("max-jobs") {
		cfg.Web.MaxJobs = serveMaxJobs
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled = serveMetrics
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec, templateTypes, err := newExecutor(cfg)
	if err != nil {
		return err
	}
	if err := checkDeviceType(cfg.Orchestrator.DefaultDeviceType, templateTypes); err != nil {
		return err
	}

	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}
	defer store.Close()

	sweeper, err := artifact.NewSweeper(store, cfg.Artifacts.SweepSchedule, cfg.Artifacts.Retention.Duration, logger)
	if err != nil {
		return err
	}

	var (
		metrics        *observability.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		metrics, metricsHandler, err = observability.NewMetrics(ctx)
		if err != nil {
			return fmt.Errorf("setting up metrics: %w", err)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Runner:  exec,
		Workers: cfg.Orchestrator.Workers,
		Store:   store,
		Metrics: metrics,
		Logger:  logger,
	})
	defer orch.Close()

	server := api.NewServer(api.Config{
		Orchestrator:      orch,
		Store:             store,
		DeviceTypes:       append(templateTypes, cfg.Orchestrator.DefaultDeviceType),
		DefaultDeviceType: cfg.Orchestrator.DefaultDeviceType,
		DefaultUsername:   cfg.Session.Username,
		JobTTL:            cfg.Web.JobTTL.Duration,
		MaxJobs:           cfg.Web.MaxJobs,
		Metrics:           metrics,
		MetricsHandler:    metricsHandler,
		Logger:            logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := cfg.Web.Addr()
		logger.Info("Starting web API", "addr", "http://"+addr, "artifacts", cfg.Artifacts.Backend)
		return server.ListenAndServe(gctx, addr)
	})
	g.Go(func() error {
		sweeper.Start()
		<-gctx.Done()
		sweeper.Stop()
		return nil
	})
	g.Go(func() error {
		// One sweep at startup clears what a previous run left in a persistent store.
		if n := sweeper.SweepOnce(gctx); n > 0 {
			logger.Info("Swept expired artifacts", "count", n)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
