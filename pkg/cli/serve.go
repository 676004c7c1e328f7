package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/fantasm"
	httpAdapter "github.com/aretw0/fantasm/pkg/adapters/http"
	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/observability"
	"github.com/aretw0/fantasm/pkg/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	addr         string
	redisURL     string
	workers      int
	pollInterval time.Duration
	hopTimeout   time.Duration
}

func newServeCmd(opts *Options, reg *action.Registry) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP dispatch endpoint and queue workers",
		Long: `Starts the HTTP server (dispatch, graph, health and metrics endpoints) and,
unless --workers is 0, workers consuming the engine's queue.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, so, reg)
		},
	}
	cmd.Flags().StringVarP(&so.addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&so.redisURL, "redis", "", "Redis URL; empty runs on in-memory adapters")
	cmd.Flags().IntVarP(&so.workers, "workers", "w", 4, "Concurrent queue workers (0 disables)")
	cmd.Flags().DurationVar(&so.pollInterval, "poll-interval", 200*time.Millisecond, "Worker poll interval when the queue is idle")
	cmd.Flags().DurationVar(&so.hopTimeout, "hop-timeout", fantasm.DefaultHopTimeout, "Deadline of a single hop")
	return cmd
}

func runServe(ctx context.Context, opts *Options, so *serveOptions, reg *action.Registry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := opts.logger()
	if err != nil {
		return err
	}
	g, err := loadGraph(opts, reg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(registry)
	if err != nil {
		return err
	}
	hooks := metrics.Hooks().Combine(observability.LogHooks(logger))
	eng, err := createEngine(ctx, opts, g, so.redisURL, logger,
		fantasm.WithLifecycleHooks(hooks),
		fantasm.WithHopTimeout(so.hopTimeout),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              so.addr,
		Handler:           httpAdapter.NewHandler(eng, httpAdapter.WithLogger(logger), httpAdapter.WithGatherer(registry)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		logger.Info("starting fantasm server", "addr", srv.Addr, "config", opts.ConfigPath, "redis", so.redisURL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "err", err)
			return srv.Close()
		}
		logger.Info("fantasm server stopped gracefully")
		return nil
	})
	if so.workers > 0 {
		w, err := eng.Worker(
			worker.WithConcurrency(so.workers),
			worker.WithPollInterval(so.pollInterval),
		)
		if err != nil {
			return err
		}
		grp.Go(func() error { return w.Run(ctx) })
	}
	return grp.Wait()
}
