// Package app builds the long-lived services behind every command and owns
// their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/novel-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/novel-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/novel-harvester/internal/harvest"
	"github.com/JakeFAU/novel-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/novel-harvester/internal/progress"
	"github.com/JakeFAU/novel-harvester/internal/progress/sinks"
	"github.com/JakeFAU/novel-harvester/internal/source"
	gcsstorage "github.com/JakeFAU/novel-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/novel-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/novel-harvester/internal/storage/memory"
	mongostore "github.com/JakeFAU/novel-harvester/internal/storage/mongo"
	pgstore "github.com/JakeFAU/novel-harvester/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/novel-harvester/internal/storage/sqlite"
	"github.com/JakeFAU/novel-harvester/internal/store"
)

const readinessProbeID = "__readyz__"

// Options override pieces of the wiring.
type Options struct {
	// Getter replaces the configured page retriever.
	Getter source.Getter
	// DryRun keeps artifacts in memory instead of the configured output.
	DryRun bool
	// Registry receives collectors; a fresh registry is used when nil.
	Registry *prometheus.Registry
}

// App holds the services shared by the CLI and the HTTP server.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry    *prometheus.Registry
	store       store.Store
	artifacts   harvest.ArtifactStore
	hub         *progress.Hub
	broadcaster *sinks.Broadcaster
	source      *source.Source
	harvester   *harvest.Harvester

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Build wires every service from cfg. On failure, whatever was already
// opened is closed before returning.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, registry: opts.Registry}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = a.Close(closeCtx)
		}
	}()

	logger.Info("building application",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("output_driver", cfg.Output.Driver),
		zap.Bool("headless", cfg.Source.Headless.Enabled),
		zap.Bool("dry_run", opts.DryRun),
	)

	if a.store, err = a.setupStore(ctx); err != nil {
		return nil, err
	}
	if a.artifacts, err = a.setupArtifacts(ctx, opts.DryRun); err != nil {
		return nil, err
	}
	if err = a.setupProgress(ctx); err != nil {
		return nil, err
	}
	getter := opts.Getter
	if getter == nil {
		if getter, err = a.setupGetter(); err != nil {
			return nil, err
		}
	}
	if rl := cfg.Source.RateLimit; rl.RPS > 0 {
		getter = ratelimit.Wrap(getter, ratelimit.New(ratelimit.Config{RPS: rl.RPS, Burst: rl.Burst}))
		logger.Info("per-host rate limit enabled", zap.Float64("rps", rl.RPS), zap.Int("burst", rl.Burst))
	}
	parser, err := source.NewParser(source.Selectors{
		Title:       cfg.Source.Selectors.Title,
		ChapterList: cfg.Source.Selectors.ChapterList,
		ChapterLink: cfg.Source.Selectors.ChapterLink,
		Content:     cfg.Source.Selectors.Content,
		Challenge:   cfg.Source.Selectors.Challenge,
	}, cfg.Source.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("source parser: %w", err)
	}
	a.source = source.New(getter, parser, cfg.Source.AllowedURLPrefix, logger.Named("source"))

	lo, hi := cfg.Harvest.DelayBounds()
	fetcher := harvest.NewPacedFetcher(a.source, harvest.UniformDelay(lo, hi), cfg.Harvest.FetchTimeout())
	a.harvester = harvest.New(harvest.Config{
		DefaultBatchSize: cfg.Harvest.BatchSize,
		BufferRetention:  cfg.Store.BufferRetention,
	}, a.store, fetcher, a.artifacts, a.hub, logger.Named("harvest"))
	return a, nil
}

func (a *App) setupStore(ctx context.Context) (store.Store, error) {
	retention := a.cfg.Store.BufferRetention
	switch a.cfg.Store.Driver {
	case "memory":
		a.logger.Warn("using in-memory progress store; progress is lost on exit")
		return memorystorage.NewProgressStore(retention), nil
	case "sqlite":
		st, err := sqlitestore.Open(ctx, a.cfg.Store.SQLite.Path, retention)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.onClose("sqlite store", func(context.Context) error { return st.Close() })
		a.logger.Info("using sqlite progress store", zap.String("path", a.cfg.Store.SQLite.Path))
		return st, nil
	case "postgres":
		st, err := pgstore.NewProgressStore(ctx, pgstore.Config{
			DSN:             a.cfg.Store.Postgres.DSN,
			MaxConns:        int32(a.cfg.Store.Postgres.MaxConns), //nolint:gosec // validated small value
			BufferRetention: retention,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		a.onClose("postgres store", func(context.Context) error { st.Close(); return nil })
		a.logger.Info("using postgres progress store")
		return st, nil
	case "mongo":
		st, err := mongostore.Connect(ctx, mongostore.Config{
			URI:             a.cfg.Store.Mongo.URI,
			Database:        a.cfg.Store.Mongo.Database,
			BufferRetention: retention,
		})
		if err != nil {
			return nil, fmt.Errorf("mongo store init failed: %w", err)
		}
		a.onClose("mongo store", st.Close)
		a.logger.Info("using mongo progress store", zap.String("database", a.cfg.Store.Mongo.Database))
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
}

func (a *App) setupArtifacts(ctx context.Context, dryRun bool) (harvest.ArtifactStore, error) {
	driver := a.cfg.Output.Driver
	if dryRun {
		driver = "memory"
	}
	switch driver {
	case "memory":
		a.logger.Info("artifacts kept in memory")
		return memorystorage.NewBlobStore(), nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.Dir})
		if err != nil {
			return nil, fmt.Errorf("local artifact store init failed: %w", err)
		}
		a.logger.Info("writing artifacts to disk", zap.String("dir", a.cfg.Output.Dir))
		return blobs, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs client", func(context.Context) error { return client.Close() })
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Output.GCS.Bucket,
			Prefix: a.cfg.Output.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs artifact store init failed: %w", err)
		}
		a.logger.Info("writing artifacts to GCS",
			zap.String("bucket", a.cfg.Output.GCS.Bucket),
			zap.String("prefix", a.cfg.Output.GCS.Prefix))
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown output driver %q", driver)
	}
}

func (a *App) setupProgress(ctx context.Context) error {
	ev := a.cfg.Events
	a.broadcaster = sinks.NewBroadcaster(0)
	sinkList := []progress.Sink{a.broadcaster}
	if ev.Log {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if ev.Prometheus {
		promSink, err := sinks.NewPrometheusSink(a.registry)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if ev.PubSub.Enabled() {
		client, err := pubsub.NewClient(ctx, ev.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		topic := client.Topic(ev.PubSub.Topic)
		a.onClose("pubsub client", func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		sinkList = append(sinkList, sinks.NewPubSubSink(topic, a.logger.Named("progress_pubsub")))
		a.logger.Info("publishing progress to Pub/Sub",
			zap.String("project", ev.PubSub.ProjectID),
			zap.String("topic", ev.PubSub.Topic))
	}

	hubCfg := progress.Config{
		BufferSize:     ev.BufferSize,
		MaxBatchEvents: ev.MaxBatchEvents,
		MaxBatchWait:   time.Duration(ev.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(ev.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	// The hub closes its sinks, so it must run before the clients behind them.
	a.closers = append([]closer{{name: "progress hub", fn: a.hub.Close}}, a.closers...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupGetter() (source.Getter, error) {
	src := a.cfg.Source
	if src.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       src.Headless.MaxParallel,
			UserAgent:         src.UserAgent,
			NavigationTimeout: time.Duration(src.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.onClose("headless browser", func(context.Context) error { f.Close(); return nil })
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", src.Headless.MaxParallel))
		return f, nil
	}
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", src.UserAgent),
		zap.Bool("cloudflare_bypass", src.CloudflareBypass))
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:        src.UserAgent,
		RespectRobots:    src.RespectRobots,
		CloudflareBypass: src.CloudflareBypass,
		Timeout:          time.Duration(src.RequestTimeoutSec) * time.Second,
	}), nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Harvester returns the batch harvester.
func (a *App) Harvester() *harvest.Harvester { return a.harvester }

// Source returns the page source.
func (a *App) Source() *source.Source { return a.source }

// Artifacts returns the artifact store in use.
func (a *App) Artifacts() harvest.ArtifactStore { return a.artifacts }

// Ready checks that the progress store answers.
func (a *App) Ready(ctx context.Context) error {
	_, err := a.store.Load(ctx, readinessProbeID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("progress store: %w", err)
	}
	return nil
}

// Close flushes pending events and releases every client. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
