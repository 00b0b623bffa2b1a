// Package app assembles the pricing engine from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/wessley-pricing/engine/catalog"
	"github.com/WessleyAI/wessley-pricing/engine/config"
	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/events"
	"github.com/WessleyAI/wessley-pricing/engine/freshness"
	"github.com/WessleyAI/wessley-pricing/engine/records"
	"github.com/WessleyAI/wessley-pricing/engine/research"
	"github.com/WessleyAI/wessley-pricing/engine/scheduler"
	"github.com/WessleyAI/wessley-pricing/engine/sources"
	"github.com/WessleyAI/wessley-pricing/engine/sources/carpart"
	"github.com/WessleyAI/wessley-pricing/engine/sources/ebay"
	"github.com/WessleyAI/wessley-pricing/engine/sources/lkq"
	"github.com/WessleyAI/wessley-pricing/engine/sources/row52"
	"github.com/WessleyAI/wessley-pricing/pkg/metrics"
	"github.com/WessleyAI/wessley-pricing/pkg/resilience"
)

// App is the wired engine.
type App struct {
	Config       *config.Config
	Log          *slog.Logger
	Metrics      *metrics.Metrics
	Store        records.Store
	Catalog      catalog.Catalog
	Cache        *freshness.Cache
	Sources      []*sources.Guarded
	Orchestrator *research.Orchestrator
	Bulk         *research.Coordinator
	Jobs         *research.Jobs
	Scheduler    *scheduler.Scheduler

	nc       *nats.Conn
	neo      neo4j.DriverWithContext
	notifier *events.NATSNotifier
}

// New connects every backend named in cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (a *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	a = &App{Config: cfg, Log: log, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
			a = nil
		}
	}()

	if a.Store, err = OpenStore(ctx, cfg); err != nil {
		return a, err
	}
	if a.Catalog, err = a.openCatalog(ctx); err != nil {
		return a, err
	}
	a.Cache = freshness.New(a.Store, cfg.FreshnessWindow, log, a.Metrics)
	a.Sources = BuildSources(cfg.Sources, NewHTTPClient(), log, a.Metrics)

	var notifier events.Notifier = events.Nop{}
	if cfg.NATSURL != "" {
		if a.nc, err = nats.Connect(cfg.NATSURL, nats.Name("wessley-pricing")); err != nil {
			return a, fmt.Errorf("nats connect: %w", err)
		}
		a.notifier = events.NewNATSNotifier(a.nc, log, a.Metrics)
		notifier = a.notifier
		if cfg.PriceSync {
			ps := events.PriceSync{Catalog: a.Catalog, MinConfidence: cfg.PriceSyncMinConfidence, Log: log}
			if _, err = ps.Subscribe(a.nc, "pricing-sync"); err != nil {
				return a, fmt.Errorf("subscribe price sync: %w", err)
			}
		}
	}

	fetchers := make([]research.Fetcher, len(a.Sources))
	for i, s := range a.Sources {
		fetchers[i] = s
	}
	a.Orchestrator = research.NewOrchestrator(fetchers, a.Cache, notifier, research.Options{
		AdapterTimeout: cfg.AdapterTimeout,
		Policy:         cfg.Policy,
	}, log, a.Metrics)
	a.Bulk = research.NewCoordinator(a.Orchestrator, a.Cache, a.Catalog, research.BulkOptions{
		BatchSize:   cfg.BatchSize,
		BatchDelay:  cfg.BatchDelay,
		Parallelism: cfg.BulkParallelism,
	}, log, a.Metrics)
	a.Jobs = research.NewJobs(a.Bulk, 0)

	if cfg.RefreshSpec != "" {
		r := &scheduler.Refresher{Catalog: a.Catalog, Cache: a.Cache, Bulk: a.Bulk, Log: log}
		if a.Scheduler, err = scheduler.New(cfg.RefreshSpec, r, log); err != nil {
			return a, err
		}
	}
	return a, nil
}

// OpenStore opens the configured record store.
func OpenStore(ctx context.Context, cfg *config.Config) (records.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return records.NewMemoryStore(), nil
	case "sqlite":
		return records.OpenSQL(ctx, "sqlite", cfg.SQLitePath)
	case "postgres":
		return records.OpenSQL(ctx, "postgres", cfg.PostgresDSN)
	case "redis":
		return records.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (a *App) openCatalog(ctx context.Context) (catalog.Catalog, error) {
	if a.Config.CatalogBackend != "neo4j" {
		return catalog.NewMemoryCatalog(), nil
	}
	driver, err := catalog.Connect(ctx, a.Config.Neo4jURL, a.Config.Neo4jUser, a.Config.Neo4jPass)
	if err != nil {
		return nil, err
	}
	a.neo = driver
	return catalog.NewGraphCatalog(driver, a.Config.Neo4jDatabase), nil
}

// NewHTTPClient returns the client shared by the marketplace adapters.
// Outbound calls carry trace context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   15 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// BuildSources creates a guarded adapter for every enabled source.
func BuildSources(cfgs []config.SourceConfig, client *http.Client, log *slog.Logger, m *metrics.Metrics) []*sources.Guarded {
	if log == nil {
		log = slog.Default()
	}
	var out []*sources.Guarded
	for _, sc := range cfgs {
		if sc.Disabled {
			continue
		}
		ac := sources.Config{BaseURL: sc.BaseURL, APIKey: sc.APIKey(), MaxResults: sc.MaxResults, Client: client}
		var adapter sources.Adapter
		switch sc.Source() {
		case domain.SourceEbay:
			adapter = ebay.New(ac)
		case domain.SourceLKQ:
			adapter = lkq.New(ac)
		case domain.SourceRow52:
			adapter = row52.New(ac)
		case domain.SourceCarPart:
			adapter = carpart.New(ac)
		default:
			log.Warn("unknown source skipped", "source", sc.Name)
			continue
		}
		out = append(out, sources.NewGuarded(adapter, sources.GuardOpts{
			MaxResults: sc.MaxResults,
			Limiter:    resilience.LimiterOpts{Rate: sc.RatePerSecond, Burst: sc.Burst},
			Breaker:    resilience.BreakerOpts{FailThreshold: sc.FailThreshold, Timeout: sc.OpenTimeout},
		}, log, m))
	}
	return out
}

// Start launches background work.
func (a *App) Start() {
	if a.Scheduler != nil {
		a.Scheduler.Start()
	}
}

// Close stops background work and releases every connection.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		errs = append(errs, a.Scheduler.Stop(ctx))
	}
	if a.Jobs != nil {
		errs = append(errs, a.Jobs.Shutdown(ctx))
	}
	if a.notifier != nil {
		a.notifier.Wait()
	}
	if a.nc != nil {
		errs = append(errs, a.nc.Drain())
	}
	if a.neo != nil {
		errs = append(errs, a.neo.Close(ctx))
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// HealthTimeout bounds the health check.
const HealthTimeout = 2 * time.Second

// Health reports per-source breaker states and whether the store answers.
func (a *App) Health(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	for _, s := range a.Sources {
		out[string(s.Source())] = s.State().String()
	}
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()
	if _, err := a.Store.Active(ctx, "__health__", "__health__"); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return out, fmt.Errorf("record store: %w", err)
	}
	return out, nil
}
