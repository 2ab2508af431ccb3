package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/eugenenazirov/appkit/internal/api"
	"github.com/eugenenazirov/appkit/internal/config"
	"github.com/eugenenazirov/appkit/internal/logging"
	"github.com/eugenenazirov/appkit/internal/registry"
	"github.com/eugenenazirov/appkit/internal/settings"
	"github.com/eugenenazirov/appkit/internal/storage"
)

// Option configures New.
type Option func(*options)

type options struct {
	fs      afero.Fs
	environ func() []string
	sinks   []logging.Sink
}

// WithFs sets the filesystem used by file-backed stores (primarily for tests).
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithEnviron overrides the environment read by the settings resolver.
func WithEnviron(environ func() []string) Option {
	return func(o *options) {
		o.environ = environ
	}
}

// WithLogSink adds a sink that receives every record of the application's
// leveled loggers, next to the zap sink.
func WithLogSink(s logging.Sink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, s)
	}
}

// App encapsulates the application dependencies and HTTP server.
type App struct {
	settings *settings.Resolver[map[string]any]
	registry *registry.Registry
	hub      *logging.Hub
	log      *logging.Logger
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server

	closers []io.Closer
}

// New initializes the application with all dependencies from the provided
// configuration. It opens the configured stores, loads the settings document
// and restores persisted logger configurations.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	settingsStore, err := openStore(cfg.Settings.Storage, storage.Options{
		Path:     cfg.Settings.File,
		RedisURL: cfg.Redis.URL,
		RedisKey: cfg.SettingsRedisKey(),
		TTL:      cfg.Redis.TTL,
		Fs:       o.fs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings storage: %w", err)
	}
	app.track(settingsStore)

	defaults := cfg.Settings.Defaults
	if defaults == nil {
		defaults = map[string]any{}
	}
	resolver, err := settings.New(defaults,
		settings.WithName(cfg.Settings.Name),
		settings.WithPrefix(cfg.Settings.Prefix),
		settings.WithAllowExtra(cfg.Settings.AllowExtra),
		settings.WithBackend(settingsStore),
		settings.WithEnviron(o.environ),
		settings.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create settings resolver: %w", err)
	}
	if err := resolver.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize settings: %w", err)
	}
	app.settings = resolver

	registryStore, err := openStore(cfg.Logging.StorageType, storage.Options{
		Path:     cfg.Logging.ConfigFile,
		RedisURL: cfg.Redis.URL,
		RedisKey: cfg.LoggingRedisKey(),
		TTL:      cfg.Redis.TTL,
		Fs:       o.fs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open logger storage: %w", err)
	}
	app.track(registryStore)

	reg := registry.New(registry.WithBackend(registryStore))
	if err := reg.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load logger registry: %w", err)
	}
	app.registry = reg

	sinks := append([]logging.Sink{logging.NewZapSink(logger.Named("app"))}, o.sinks...)
	app.hub = logging.NewHub(
		logging.WithRegistry(reg),
		logging.WithSink(fanout(sinks)),
	)
	app.log = app.hub.New("application",
		logging.WithType(logging.TypeSystem),
		logging.WithRegistration(true),
	)

	app.handler = api.NewHandler(resolver, reg, app.hub, api.WithHandlerLogger(logger))
	app.router = api.NewRouter(app.handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)
	app.server = NewServer(cfg, BuildRootHandler(app.router))

	app.log.Success("application initialized",
		map[string]any{"settings": cfg.Settings.Storage, "loggers": cfg.Logging.StorageType},
	)
	return app, nil
}

func openStore(kind string, opts storage.Options) (storage.Backend, error) {
	k, err := storage.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	opts.Kind = k
	return storage.Open(opts)
}

func (a *App) track(b storage.Backend) {
	if c, ok := b.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// fanout writes every record to each sink in order.
func fanout(sinks []logging.Sink) logging.Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return logging.SinkFunc(func(rec logging.Record) {
		for _, s := range sinks {
			s.Write(rec)
		}
	})
}

// BuildRootHandler constructs the root HTTP handler that routes API requests.
func BuildRootHandler(apiHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.log.Start("server listening", map[string]any{"addr": a.server.Addr})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Hub returns the logging hub loggers of this application are created from.
func (a *App) Hub() *logging.Hub {
	return a.hub
}

// Close releases the stores opened by New. It is safe to call more than once.
func (a *App) Close() error {
	if a.log != nil {
		a.log.Destroy()
	}

	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
