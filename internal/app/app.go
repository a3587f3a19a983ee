// Package app wires browserfleet's components together from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/browserfleet/internal/api"
	"github.com/Iron-Ham/browserfleet/internal/browser"
	"github.com/Iron-Ham/browserfleet/internal/config"
	"github.com/Iron-Ham/browserfleet/internal/event"
	"github.com/Iron-Ham/browserfleet/internal/instance/health"
	"github.com/Iron-Ham/browserfleet/internal/instance/lifecycle"
	"github.com/Iron-Ham/browserfleet/internal/logging"
	"github.com/Iron-Ham/browserfleet/internal/metrics"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

// App is a fully wired browser manager.
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	Bus        *event.Bus
	Store      *profile.Store
	Controller *lifecycle.Controller
	Service    *api.Service
	Metrics    *metrics.Collector

	fs          afero.Fs
	launcher    lifecycle.Launcher
	watch       bool
	ownsLogger  bool
	metricsSrv  *http.Server
	metricsAddr net.Addr
	stopWatch   context.CancelFunc
}

// Option customizes New.
type Option func(*App)

// WithLogger uses logger instead of one built from the config.
func WithLogger(logger *logging.Logger) Option {
	return func(a *App) { a.Logger = logger }
}

// WithFs stores profiles on fs. Watching the profiles file is disabled for
// non-OS filesystems.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l lifecycle.Launcher) Option {
	return func(a *App) { a.launcher = l }
}

// New builds an App. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg, fs: afero.NewOsFs(), watch: true}
	for _, opt := range opts {
		opt(a)
	}
	if _, ok := a.fs.(*afero.OsFs); !ok {
		a.watch = false
	}
	if a.Logger == nil {
		a.Logger = NewLogger(cfg)
		a.ownsLogger = true
	}

	a.Bus = event.NewBus()
	a.Bus.SetLogger(a.Logger)

	store, err := profile.Open(a.fs, cfg.Paths.ProfilesPath(), cfg.Paths.InstancesPath(),
		profile.WithLogger(a.Logger),
		profile.WithBus(a.Bus),
	)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}
	a.Store = store

	if a.launcher == nil {
		a.launcher = browser.NewChromeLauncher(BrowserOptions(cfg), a.Logger)
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewCollector(metrics.DefaultNamespace)
	}

	a.Controller = lifecycle.NewController(store, a.launcher, ControllerConfig(cfg),
		lifecycle.WithBus(a.Bus),
		lifecycle.WithLogger(a.Logger),
		lifecycle.WithMetrics(a.Metrics),
	)
	store.SetRunningChecker(a.Controller.Registry())
	a.Service = api.NewService(store, a.Controller, a.Logger)
	return a, nil
}

// NewLogger builds the logger described by cfg.Logging. Disabled logging,
// or a log directory that cannot be opened, yields a no-op logger.
func NewLogger(cfg *config.Config) *logging.Logger {
	if !cfg.Logging.Enabled {
		return logging.NopLogger()
	}
	logger, err := logging.NewLoggerWithRotation(cfg.Paths.LogDir(), cfg.Logging.Level, LogRotation(cfg))
	if err != nil {
		return logging.NopLogger()
	}
	return logger
}

// LogRotation converts the logging config into rotation settings.
func LogRotation(cfg *config.Config) logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}
}

// BrowserOptions converts the browser and shutdown config into launch options.
func BrowserOptions(cfg *config.Config) browser.Options {
	return browser.Options{
		ExecutablePath:    cfg.Browser.ExecutablePath,
		BootstrapURL:      cfg.Browser.BootstrapURL,
		WindowWidth:       cfg.Browser.WindowWidth,
		WindowHeight:      cfg.Browser.WindowHeight,
		SettleDelay:       cfg.Browser.SettleDelay(),
		NavigationTimeout: cfg.Browser.NavigationTimeout(),
		ProbeTimeout:      cfg.Health.ProbeTimeout(),
		KillGrace:         cfg.Shutdown.KillGrace(),
		ExtraFlags:        cfg.Browser.ExtraFlags,
	}
}

// ControllerConfig converts the health and shutdown config.
func ControllerConfig(cfg *config.Config) lifecycle.Config {
	c := lifecycle.DefaultConfig()
	c.ShutdownTimeout = cfg.Shutdown.Timeout()
	c.Health = health.Config{
		Interval:     cfg.Health.PollInterval(),
		ProbeTimeout: cfg.Health.ProbeTimeout(),
	}
	return c
}

// Start begins health polling, the profiles file watcher and, when enabled,
// the metrics endpoint.
func (a *App) Start() error {
	if a.Metrics != nil {
		ln, err := net.Listen("tcp", a.Config.Metrics.Address)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		a.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		a.metricsAddr = ln.Addr()
		go func() {
			if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("metrics server stopped", "error", err.Error())
			}
		}()
		a.Logger.Info("serving metrics", "address", ln.Addr().String())
	}

	if a.watch {
		ctx, cancel := context.WithCancel(context.Background())
		if err := a.Store.Watch(ctx); err != nil {
			cancel()
			a.Logger.Warn("profiles file watch disabled", "error", err.Error())
		} else {
			a.stopWatch = cancel
		}
	}

	a.Controller.Start()
	a.Logger.Info("browserfleet started",
		"profiles", a.Store.Path(),
		"profile_count", len(a.Store.List()))
	return nil
}

// MetricsAddr returns the metrics listener address, or nil when metrics are off.
func (a *App) MetricsAddr() net.Addr {
	return a.metricsAddr
}

// Shutdown stops every browser, bounded by the configured shutdown timeout,
// then releases the app's resources. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Controller.Close(ctx)
	if err != nil {
		a.Logger.Warn("shutdown did not complete cleanly", "error", err.Error())
	}

	if a.stopWatch != nil {
		a.stopWatch()
		a.stopWatch = nil
	}
	if a.metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		_ = a.metricsSrv.Shutdown(sctx)
		cancel()
		a.metricsSrv = nil
	}
	if n := a.Bus.SubscriptionCount(); n > 0 {
		a.Logger.Debug("dropping event subscriptions", "count", n)
		a.Bus.Clear()
	}

	a.Logger.Info("browserfleet stopped")
	if a.ownsLogger {
		_ = a.Logger.Close()
	}
	return err
}
