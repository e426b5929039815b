// Package app wires the agent: outbox stores, producers, sync workers and the
// local HTTP surface, and manages their lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/airfi/edgeship/internal/api/http"
	"github.com/airfi/edgeship/internal/config"
	"github.com/airfi/edgeship/internal/connectivity"
	"github.com/airfi/edgeship/internal/device"
	"github.com/airfi/edgeship/internal/gps"
	"github.com/airfi/edgeship/internal/health"
	"github.com/airfi/edgeship/internal/observability"
	"github.com/airfi/edgeship/internal/outbox"
	"github.com/airfi/edgeship/internal/server"
	"github.com/airfi/edgeship/internal/shipper"
	"github.com/airfi/edgeship/internal/storage"
	"github.com/airfi/edgeship/internal/streams"
	"github.com/airfi/edgeship/internal/uploader"
	"github.com/airfi/edgeship/pkg/types"
)

// ServiceName identifies the agent in exported metrics.
const ServiceName = "edgeship"

// Option overrides a collaborator, mainly for tests.
type Option func(*App)

// WithMonitor replaces the dial probe.
func WithMonitor(m connectivity.Monitor) Option {
	return func(a *App) { a.monitor = m }
}

// WithSubmitter replaces the HTTP uploader.
func WithSubmitter(s shipper.Submitter) Option {
	return func(a *App) { a.submitter = s }
}

// WithGPSSource replaces the gpspipe reader.
func WithGPSSource(src gps.Source) Option {
	return func(a *App) { a.gpsSource = src }
}

// WithDeviceID skips interface lookup and uses id.
func WithDeviceID(id string) Option {
	return func(a *App) { a.deviceID = id }
}

// App owns every long-lived component of the agent.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	deviceID  string
	providers *observability.Providers
	stats     *observability.Stats
	monitor   connectivity.Monitor
	submitter shipper.Submitter
	gpsState  *gps.State
	gpsSource gps.Source
	shutdown  *server.ShutdownManager

	passengers *outbox.Store[types.PassengerEvent]
	health     *outbox.Store[types.HealthSample]

	runners []func(ctx context.Context)
	handler http.Handler
}

// New resolves and validates cfg, opens the outbox stores and builds the workers.
// A store whose schema cannot be created is returned as a fatal error.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		gpsState: gps.NewState(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig(), logger.Named("shutdown"))

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	if a.deviceID == "" {
		id, err := device.Resolve(cfg.Device.Interface, cfg.Device.ID)
		if err != nil {
			return err
		}
		a.deviceID = id
	}
	a.logger.Info("device identity resolved", zap.String("device_id", a.deviceID))

	providers, err := observability.NewProviders(ctx, cfg.Metrics.OTLPEndpoint, ServiceName, cfg.Metrics.Interval)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	a.providers = providers
	a.shutdown.RegisterCloser("metrics", server.CloserFunc(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return providers.Shutdown(sctx)
	}))

	metrics, err := observability.NewMetrics(providers.MeterProvider.Meter(ServiceName))
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}
	a.stats = observability.NewStats(metrics)

	if a.monitor == nil {
		a.monitor = connectivity.NewDialProbe(cfg.Connectivity.Address, cfg.Connectivity.Timeout,
			a.logger.Named("connectivity"))
	}
	if a.submitter == nil {
		a.submitter = uploader.NewClient(cfg.API.Key, cfg.API.Timeout, a.logger.Named("uploader"))
	}

	workerCfg := shipper.Config{Interval: cfg.Sync.Interval, Concurrency: cfg.Sync.Concurrency}
	pending := map[string]httpapi.PendingCounter{}
	var ingest *httpapi.IngestHandler

	if cfg.Passenger.Enabled {
		attachments, err := a.openAttachments(ctx)
		if err != nil {
			return err
		}
		a.passengers, err = outbox.Open(cfg.Passenger.DBPath, streams.PassengerSchema(), outbox.WithDeviceID(a.deviceID))
		if err != nil {
			return err
		}
		a.shutdown.RegisterCloser(streams.PassengerTable, a.passengers)
		pending[streams.PassengerTable] = a.passengers

		w := shipper.NewWorker(workerCfg, shipper.Stream[types.PassengerEvent]{
			Name:   streams.PassengerTable,
			URL:    cfg.Passenger.URL,
			Store:  a.passengers,
			Encode: streams.NewPassengerEncoder(attachments).Encode,
			Skip:   streams.SkipClasses(cfg.Passenger.SkipClasses),
		}, a.monitor, a.submitter, a.stats, a.logger.Named("shipper"))
		a.runners = append(a.runners, w.Run)

		ingest = httpapi.NewIngestHandler(a.passengers, a.gpsState, int64(cfg.Passenger.RouteID),
			a.stats, a.logger.Named("ingest"))
	}

	if cfg.Health.Enabled {
		a.health, err = outbox.Open(cfg.Health.DBPath, streams.HealthSchema(), outbox.WithDeviceID(a.deviceID))
		if err != nil {
			return err
		}
		a.shutdown.RegisterCloser(streams.HealthTable, a.health)
		pending[streams.HealthTable] = a.health

		collector := health.NewCollector(health.Config{
			CounterFile: cfg.Health.CounterFile,
			UptimeFile:  cfg.Health.UptimeFile,
			ThermalFile: cfg.Health.ThermalFile,
		}, a.gpsState, a.logger.Named("health"))

		w := shipper.NewWorker(workerCfg, shipper.Stream[types.HealthSample]{
			Name:    streams.HealthTable,
			URL:     cfg.Health.URL,
			Store:   a.health,
			Encode:  streams.EncodeHealth,
			Collect: collector.Collect,
		}, a.monitor, a.submitter, a.stats, a.logger.Named("shipper"))
		a.runners = append(a.runners, w.Run)
	}

	if a.gpsSource == nil && cfg.GPS.Command != "" {
		src, err := gps.NewPipeSource(cfg.GPS.Command, a.logger.Named("gps"))
		if err != nil {
			return err
		}
		a.gpsSource = src
	}
	if a.gpsSource != nil {
		src, interval, logger := a.gpsSource, cfg.GPS.Interval, a.logger.Named("gps")
		a.runners = append(a.runners, func(ctx context.Context) {
			gps.Poll(ctx, src, a.gpsState, interval, logger)
		})
	}

	status := httpapi.NewStatusHandler(a.deviceID, a.stats, pending, a.logger.Named("status"))
	a.handler = server.ShutdownMiddleware(a.shutdown)(
		httpapi.NewRouter(ingest, status, a.logger.Named("http")))
	return nil
}

func (a *App) openAttachments(ctx context.Context) (storage.AttachmentStore, error) {
	att := a.cfg.Attachments
	switch att.Type {
	case "local":
		return storage.NewLocalStorage(att.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if att.S3.Region != "" {
			s3Cfg.Region = att.S3.Region
		}
		s3Cfg.Endpoint = att.S3.Endpoint
		s3Cfg.UsePathStyle = att.S3.PathStyle
		s3Cfg.Prefix = att.S3.Prefix
		store, err := storage.NewS3Storage(ctx, att.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, err
		}
		a.logger.Info("attachments in s3",
			zap.String("bucket", att.S3.Bucket),
			zap.String("endpoint", att.S3.Endpoint))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported attachments type: %s", att.Type)
	}
}

// DeviceID returns the resolved device identity.
func (a *App) DeviceID() string {
	return a.deviceID
}

// Handler returns the local HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Stats returns the delivery statistics.
func (a *App) Stats() *observability.Stats {
	return a.stats
}

// Run starts every worker, the GPS reader and the HTTP server, blocks until ctx is
// cancelled or the HTTP server fails, then releases all resources.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, run := range a.runners {
		run := run
		g.Go(func() error {
			run(gctx)
			return nil
		})
	}

	if a.cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:         a.cfg.HTTP.Addr,
			Handler:      a.handler,
			ReadTimeout:  a.cfg.HTTP.ReadTimeout,
			WriteTimeout: a.cfg.HTTP.WriteTimeout,
		}
		g.Go(func() error {
			a.logger.Info("http server listening", zap.String("addr", a.cfg.HTTP.Addr))
			if err := server.ServeHTTP(gctx, srv, 10*time.Second); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	a.logger.Info("edgeship started",
		zap.Bool("passenger", a.cfg.Passenger.Enabled),
		zap.Bool("health", a.cfg.Health.Enabled),
		zap.Duration("interval", a.cfg.Sync.Interval))

	runErr := g.Wait()
	closeErr := a.shutdown.Shutdown(context.Background(), "run finished")
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// Close releases the stores and the metrics exporter without running.
func (a *App) Close() error {
	return a.shutdown.Shutdown(context.Background(), "closed")
}
