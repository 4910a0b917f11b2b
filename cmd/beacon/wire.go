package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-beacon/infrastructure/llm"
	"github.com/ahrav/go-beacon/infrastructure/lock"
	"github.com/ahrav/go-beacon/infrastructure/middleware"
	"github.com/ahrav/go-beacon/infrastructure/store"
	"github.com/ahrav/go-beacon/internal/application"
	"github.com/ahrav/go-beacon/internal/config"
	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/ports"
	"github.com/ahrav/go-beacon/internal/prompts"
)

const serviceName = "beacon"

// engineStore is a SnapshotStore that can also write client profiles.
type engineStore interface {
	ports.SnapshotStore
	SaveClient(ctx context.Context, c domain.Client, competitors []string) error
}

// engine bundles everything a command needs. Close releases it all.
type engine struct {
	store    engineStore
	registry *llm.Registry
	pack     *prompts.Pack
	metrics  *middleware.PrometheusMetrics
	observer *middleware.OTelRunObserver

	closers []func()
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// newEngine wires the store, providers, metrics and prompt pack from cfg.
func newEngine(ctx context.Context, c *config.Config) (*engine, error) {
	e := &engine{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.metrics = middleware.NewPrometheusMetrics(reg)
	e.observer = middleware.NewOTelRunObserver(e.metrics, nil)
	if c.Metrics.Addr != "" {
		e.closers = append(e.closers, serveMetrics(c.Metrics.Addr, reg))
	}

	st, closeStore, err := openStore(ctx, c.Store)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store = st
	e.closers = append(e.closers, closeStore)

	e.registry, err = llm.NewRegistry(llm.RegistryConfig{
		Providers: providerConfigs(c),
		Middleware: []llm.Middleware{
			llm.TracingMiddleware(serviceName),
			llm.MetricsMiddleware(e.metrics),
		},
	})
	if err != nil {
		e.Close()
		return nil, eris.Wrap(err, "build provider registry")
	}

	e.pack, err = loadPack(c.Prompts)
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *engine) options() []application.Option {
	return []application.Option{
		application.WithLogger(zap.L()),
		application.WithObserver(e.observer),
	}
}

// orchestrator builds an Orchestrator with the configured run lock.
// overrides pins a model per provider for every call of the run.
func (e *engine) orchestrator(ctx context.Context, c *config.Config, overrides map[domain.Provider]string) (*application.Orchestrator, error) {
	runLock, closeLock, err := openLock(ctx, c.Lock)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeLock)

	return application.NewOrchestrator(e.store, e.registry, runLock, e.pack, application.OrchestratorConfig{
		ExecutionSet:   c.ExecutionSet(),
		MaxConcurrency: c.Execution.MaxConcurrency,
		ModelOverrides: overrides,
		LockTimeout:    c.Lock.WaitTimeout,
	}, e.options()...)
}

// providerConfigs maps configured vendors onto adapter settings. Vendors
// without an API key are left out and stay disabled.
func providerConfigs(c *config.Config) map[domain.Provider]llm.ClientConfig {
	out := make(map[domain.Provider]llm.ClientConfig)
	for _, p := range domain.KnownProviders {
		pc := c.Provider(p)
		if pc.APIKey == "" {
			continue
		}
		cc := llm.ClientConfig{
			APIKey:    pc.APIKey,
			Model:     pc.Model,
			BaseURL:   pc.BaseURL,
			Timeout:   pc.Timeout,
			MaxTokens: c.Execution.MaxTokens,
		}
		if pc.RequestsPerSecond > 0 {
			cc.Middleware = append(cc.Middleware, llm.RateLimitMiddleware(rate.Limit(pc.RequestsPerSecond), max(pc.Burst, 1)))
		}
		if pc.Timeout > 0 {
			cc.Middleware = append(cc.Middleware, llm.TimeoutMiddleware(pc.Timeout))
		}
		out[p] = cc
	}
	return out
}

func openStore(ctx context.Context, sc config.StoreConfig) (engineStore, func(), error) {
	switch sc.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "sqlite":
		st, err := store.NewSQLite(sc.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, sc.DSN, &store.PoolConfig{MaxConns: sc.MaxConns, MinConns: sc.MinConns})
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, ports.NewConfigError("store.driver", eris.Errorf("unsupported store driver: %s", sc.Driver))
	}
}

func openLock(ctx context.Context, lc config.LockConfig) (ports.RunLock, func(), error) {
	switch lc.Backend {
	case "local":
		return lock.NewLocal(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     lc.RedisAddr,
			Password: lc.RedisPassword,
			DB:       lc.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, eris.Wrap(err, "redis lock: ping")
		}
		return lock.NewRedis(client, lock.RedisConfig{TTL: lc.TTL}), func() { _ = client.Close() }, nil
	default:
		return nil, nil, ports.NewConfigError("lock.backend", eris.Errorf("unsupported lock backend: %s", lc.Backend))
	}
}

func loadPack(pc config.PromptsConfig) (*prompts.Pack, error) {
	if pc.PackPath == "" {
		return prompts.Default()
	}
	return prompts.LoadFile(pc.PackPath)
}

// serveMetrics exposes reg on addr until the returned stop func is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		zap.L().Info("metrics listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("metrics listener", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
