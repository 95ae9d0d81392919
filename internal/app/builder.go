package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/tablesync/internal/api"
	"github.com/stacklok/tablesync/internal/config"
	"github.com/stacklok/tablesync/internal/events"
	"github.com/stacklok/tablesync/internal/extract"
	"github.com/stacklok/tablesync/internal/schema"
	"github.com/stacklok/tablesync/internal/storage"
	"github.com/stacklok/tablesync/internal/storage/postgres"
	"github.com/stacklok/tablesync/internal/storage/sqlite"
	"github.com/stacklok/tablesync/internal/sync/coordinator"
	"github.com/stacklok/tablesync/internal/sync/engine"
	"github.com/stacklok/tablesync/internal/sync/reconcile"
	"github.com/stacklok/tablesync/internal/sync/scheduler"
	"github.com/stacklok/tablesync/internal/telemetry"
	"github.com/stacklok/tablesync/internal/transport/kafka"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	// SyncTracerName is the instrumentation name of the reconciler spans
	SyncTracerName = "github.com/stacklok/tablesync/sync"
)

// errNoSource is returned by full syncs when no source endpoint is configured
var errNoSource = errors.New("no source endpoint configured")

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects the builder inputs.
// Injected components take precedence over the ones derived from config.
type syncAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	gateway storage.Gateway
	source  extract.Client
	emitter events.Emitter

	// skipConsumer leaves the Kafka delta consumer out even when configured
	skipConsumer bool

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return cfg, nil
}

// NewSyncApp builds every component from the configuration
func NewSyncApp(
	ctx context.Context,
	opts ...SyncAppOptions,
) (*SyncApp, error) {
	b, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	var closers []func() error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	if b.gateway == nil {
		b.gateway, err = openGateway(ctx, &b.config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		gw := b.gateway
		closers = append(closers, func() error { gw.Close(); return nil })
	}

	registry, err := InitializeTables(ctx, b.config, b.gateway)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	emitter, emitterClosers, err := buildEmitter(b)
	if err != nil {
		return nil, fmt.Errorf("failed to build event emitters: %w", err)
	}
	closers = append(closers, emitterClosers...)

	eng, err := buildEngine(b, registry, emitter)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync engine: %w", err)
	}

	components := &AppComponents{
		Engine:   eng,
		Registry: registry,
		Gateway:  b.gateway,
	}

	if b.source != nil {
		components.Scheduler = scheduler.New(eng,
			scheduler.WithInterval(b.config.Sync.GetInterval()),
			scheduler.WithConcurrency(b.config.Sync.Concurrency),
		)
	}

	if kc := b.config.Delta.Kafka; kc != nil && !b.skipConsumer {
		components.Consumer, err = kafka.NewConsumer(kafka.Config{
			Brokers: kc.Brokers,
			Topic:   kc.Topic,
			GroupID: kc.GroupID,
		}, eng)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka delta consumer: %w", err)
		}
		closers = append(closers, components.Consumer.Close)
		slog.Info("Kafka delta consumer configured", "topic", kc.Topic, "group_id", kc.GroupID)
	}

	httpServer, err := buildHTTPServer(ctx, b, eng)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &SyncApp{
		config:     b.config,
		components: components,
		httpServer: httpServer,
		closers:    closers,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithGateway injects the destination database instead of opening one from config.
// The caller keeps ownership and closes it.
func WithGateway(gw storage.Gateway) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.gateway = gw
		return nil
	}
}

// WithSourceClient injects the extraction client instead of the configured HTTP source
func WithSourceClient(c extract.Client) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.source = c
		return nil
	}
}

// WithEmitter adds an emitter next to the configured ones
func WithEmitter(e events.Emitter) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithKafkaConsumer enables the configured Kafka delta consumer (default true)
func WithKafkaConsumer(enabled bool) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.skipConsumer = !enabled
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for HTTP and sync metrics
func WithMeterProvider(mp metric.MeterProvider) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for HTTP and sync spans
func WithTracerProvider(tp trace.TracerProvider) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// openGateway connects to the configured database driver
func openGateway(ctx context.Context, db *config.DatabaseConfig) (storage.Gateway, error) {
	switch db.GetDriver() {
	case config.DriverSQLite:
		slog.Info("Opening SQLite database", "path", db.Path)
		gw, err := sqlite.Open(ctx, db.Path)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case config.DriverPostgres:
		connString, err := db.GetConnectionString()
		if err != nil {
			return nil, err
		}
		slog.Info("Connecting to PostgreSQL", "host", db.Host, "database", db.Database)
		gw, err := postgres.Connect(ctx, connString, db.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

// buildEmitter fans out to the log, Kafka and injected emitters
func buildEmitter(b *syncAppConfig) (events.Emitter, []func() error, error) {
	var (
		emitters events.Multi
		closers  []func() error
	)

	if b.config.Events.Log {
		emitters = append(emitters, events.NewLogEmitter(slog.Default()))
	}
	if kc := b.config.Events.Kafka; kc != nil {
		ke, err := events.NewKafkaEmitter(kc.Brokers, kc.Topic)
		if err != nil {
			return nil, nil, err
		}
		emitters = append(emitters, ke)
		closers = append(closers, ke.Close)
		slog.Info("Kafka event emitter configured", "topic", kc.Topic)
	}
	if b.emitter != nil {
		emitters = append(emitters, b.emitter)
	}

	return emitters, closers, nil
}

// buildEngine creates the source client, metrics and the engine
func buildEngine(b *syncAppConfig, registry *schema.Registry, emitter events.Emitter) (engine.Engine, error) {
	slog.Info("Initializing sync components")

	if b.source == nil && b.config.Source != nil {
		client, err := extract.NewHTTPClient(b.config.Source.Endpoint, b.config.Source.GetTimeout())
		if err != nil {
			return nil, fmt.Errorf("failed to create source client: %w", err)
		}
		b.source = client
	}
	source := b.source
	if source == nil {
		source = extract.ClientFunc(func(context.Context, string, int, int) (*extract.Page, error) {
			return nil, errNoSource
		})
	}

	reconcileOpts := []reconcile.Option{
		reconcile.WithPageSize(b.config.Sync.GetPageSize()),
		reconcile.WithAddPolicy(b.config.Sync.GetAddPolicy()),
	}
	if b.tracerProvider != nil {
		reconcileOpts = append(reconcileOpts, reconcile.WithTracer(b.tracerProvider.Tracer(SyncTracerName)))
	}

	engineOpts := []engine.Option{
		engine.WithReconcileOptions(reconcileOpts...),
		engine.WithCoordinatorOptions(coordinator.WithLockTimeout(b.config.Sync.GetLockTimeout())),
		engine.WithConcurrency(b.config.Sync.Concurrency),
	}

	if b.meterProvider != nil {
		syncMetrics, err := telemetry.NewSyncMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create sync metrics: %w", err)
		}
		if syncMetrics != nil {
			engineOpts = append(engineOpts, engine.WithSyncMetrics(syncMetrics))
			slog.Info("Sync metrics enabled")
		}
	}

	eng := engine.New(registry, b.gateway, source, emitter, engineOpts...)
	slog.Info("Sync components initialized successfully")
	return eng, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *syncAppConfig,
	eng engine.Engine,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Telemetry goes first so rejected requests are observed too
	var telemetryMiddlewares []func(http.Handler) http.Handler
	if b.tracerProvider != nil {
		telemetryMiddlewares = append(telemetryMiddlewares, telemetry.TracingMiddleware(b.tracerProvider))
	}
	if b.meterProvider != nil {
		httpMetrics, err := telemetry.NewHTTPMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		if httpMetrics != nil {
			telemetryMiddlewares = append(telemetryMiddlewares, httpMetrics.Middleware)
			slog.Info("HTTP metrics middleware enabled")
		}
	}
	b.middlewares = append(telemetryMiddlewares, b.middlewares...)

	gw := b.gateway
	router := api.NewServer(eng,
		api.WithMiddlewares(b.middlewares...),
		api.WithDeltaIngest(b.config.Delta.HTTPEnabled()),
		api.WithReadiness(func(ctx context.Context) error {
			_, err := gw.Query(ctx, "SELECT 1", nil)
			return err
		}),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
