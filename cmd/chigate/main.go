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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhalm/chigate"
	"github.com/nhalm/chigate/internal/config"
	"github.com/nhalm/chigate/internal/logging"
	"github.com/nhalm/chigate/internal/proxy"
	"github.com/nhalm/chigate/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.IsProduction(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	st, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gate := chigate.New(st,
		chigate.WithRules(cfg.Rules),
		chigate.WithMetrics(chigate.NewMetrics(reg)),
		chigate.WithBlockHook(logging.BlockHook(logger)),
		chigate.WithErrorHook(logging.ErrorHook(logger)),
	)

	var upstream http.Handler
	if cfg.UpstreamURL != "" {
		if upstream, err = proxy.New(cfg.UpstreamURL); err != nil {
			return err
		}
	}

	app := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(gate, upstream, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	servers := []*http.Server{app}
	if cfg.MetricsAddr != "" {
		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	logger.Info("gate started",
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("proxy", upstream != nil),
	)
	return g.Wait()
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		st, err := store.NewRedis(store.RedisConfig{
			URL:            cfg.Store.Redis.URL,
			Password:       cfg.Store.Redis.Password,
			DB:             cfg.Store.Redis.DB,
			Prefix:         cfg.Store.Redis.Prefix,
			EventRetention: cfg.Store.EventRetention,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return store.NewMemory(store.WithEventRetention(cfg.Store.EventRetention)), nil
	}
}
