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

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzjever/infrawiz/internal/agent"
	"github.com/lzjever/infrawiz/internal/apiclient"
	"github.com/lzjever/infrawiz/internal/observability"
	"github.com/lzjever/infrawiz/internal/poller"
	"github.com/lzjever/infrawiz/internal/store"
)

func main() {
	var cfg agent.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	var apiCfg apiclient.Config
	if err := envconfig.Process("", &apiCfg); err != nil {
		fmt.Fprintf(os.Stderr, "api config: %v\n", err)
		os.Exit(1)
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	observability.RegisterAll(prometheus.DefaultRegisterer)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, apiCfg, log); err != nil {
		log.Fatal("agent failed", zap.Error(err))
	}
	log.Info("agent stopped")
}

func run(ctx context.Context, cfg agent.Config, apiCfg apiclient.Config, log *zap.Logger) error {
	pool, err := store.Open(ctx, cfg.DBDSN, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	client, tokens, err := apiclient.NewFromConfig(apiCfg, log.Named("apiclient"))
	if err != nil {
		return fmt.Errorf("api client: %w", err)
	}
	defer tokens.Close()

	polls := poller.NewManager(client, cfg.PollInterval, log.Named("poller"))
	svc := agent.NewService(store.New(pool), client, polls, log.Named("watch"), cfg.SaveDebounce)

	if _, err := svc.ResumeAll(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      agent.NewAPI(svc, pool, log).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("agent API starting", zap.String("addr", cfg.HTTPAddr), zap.String("backend", client.BaseURL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down agent")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		// running watches stay running in the table and resume on next start
		if err := svc.Close(shutdownCtx); err != nil {
			log.Warn("flush workspace state on shutdown", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}
