package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/browserfleet/internal/browser"
	"github.com/Iron-Ham/browserfleet/internal/errors"
	"github.com/Iron-Ham/browserfleet/internal/event"
	"github.com/Iron-Ham/browserfleet/internal/instance"
	"github.com/Iron-Ham/browserfleet/internal/instance/health"
	"github.com/Iron-Ham/browserfleet/internal/logging"
	"github.com/Iron-Ham/browserfleet/internal/metrics"
	"github.com/Iron-Ham/browserfleet/internal/profile"
)

var errDisconnected = errors.New("devtools connection lost")

// Launcher starts and stops browser processes.
type Launcher interface {
	Launch(ctx context.Context, profileDir string) (browser.Process, error)
	Stop(ctx context.Context, proc browser.Process, profileDir string) error
	RemoveLockArtifacts(profileDir string) error
}

// Profiles resolves profile ids to profiles and their directories.
type Profiles interface {
	Get(id string) (profile.Profile, bool)
	Dir(id string) string
}

// Config holds the controller's timing bounds.
type Config struct {
	// ShutdownTimeout bounds ShutdownAll and Close (default: 2s).
	ShutdownTimeout time.Duration

	// CleanupTimeout bounds tearing down an instance found dead (default: 5s).
	CleanupTimeout time.Duration

	Health health.Config
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout: 2 * time.Second,
		CleanupTimeout:  5 * time.Second,
		Health:          health.DefaultConfig(),
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithBus publishes status changes on bus.
func WithBus(bus *event.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records lifecycle metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the single writer of the instance registry.
type Controller struct {
	registry *instance.Registry
	profiles Profiles
	launcher Launcher
	monitor  *health.Monitor
	cfg      Config

	bus     *event.Bus
	logger  *logging.Logger
	metrics *metrics.Collector

	// mu makes the presence check and placeholder insertion of Launch atomic
	// with respect to other launches and to quiescence.
	mu        sync.Mutex
	quiescing bool

	closing atomic.Bool
	done    chan struct{}
}

// NewController creates a Controller with an empty registry and a stopped
// health monitor. Zero config fields take defaults.
func NewController(profiles Profiles, launcher Launcher, cfg Config, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = def.CleanupTimeout
	}

	c := &Controller{
		registry: instance.NewRegistry(),
		profiles: profiles,
		launcher: launcher,
		cfg:      cfg,
		logger:   logging.NopLogger(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("lifecycle")
	c.monitor = health.NewMonitor(c.registry, c, cfg.Health,
		health.WithLogger(c.logger),
		health.WithMetrics(c.metrics),
	)
	return c
}

// Registry returns the registry the controller writes.
func (c *Controller) Registry() *instance.Registry {
	return c.registry
}

// Monitor returns the health monitor.
func (c *Controller) Monitor() *health.Monitor {
	return c.monitor
}

// Start starts health polling.
func (c *Controller) Start() {
	c.mu.Lock()
	quiescing := c.quiescing
	c.mu.Unlock()
	if quiescing {
		return
	}
	c.monitor.Start()
}

// Launch starts a browser for p. It fails without side effects with
// ErrAlreadyRunning, ErrProfileNotFound or ErrShuttingDown. Otherwise a
// placeholder with Action=starting is registered before the launcher runs,
// and a launch failure is returned as an *errors.InstanceError after the
// placeholder has been removed.
func (c *Controller) Launch(ctx context.Context, p profile.Profile) (string, error) {
	id := p.ID

	c.mu.Lock()
	if c.registry.Has(id) {
		c.mu.Unlock()
		return "", errors.ErrAlreadyRunning
	}
	stored, ok := c.profiles.Get(id)
	if !ok {
		c.mu.Unlock()
		return "", errors.ErrProfileNotFound
	}
	if c.quiescing {
		c.mu.Unlock()
		return "", errors.ErrShuttingDown
	}
	dir := c.profiles.Dir(id)
	inst := instance.New(stored, dir)
	inst.TryAcquire()
	inst.SetStatus(instance.Starting(time.Now()))
	c.registry.Put(inst)
	c.mu.Unlock()

	// The store refuses to delete registered ids, so once the placeholder is
	// visible the profile either still exists here or was deleted first.
	if _, ok := c.profiles.Get(id); !ok {
		c.registry.RemoveIf(id, inst)
		inst.Release()
		return "", errors.ErrProfileNotFound
	}

	log := c.logger.WithInstance(id)
	c.publish(id, inst.Status())
	log.Info("launching browser", "dir", dir)

	start := time.Now()
	proc, err := c.launcher.Launch(ctx, dir)
	c.metrics.Launch(time.Since(start), err)
	if err != nil {
		c.registry.RemoveIf(id, inst)
		if rmErr := c.launcher.RemoveLockArtifacts(dir); rmErr != nil {
			log.Warn("failed to remove lock artifacts", "dir", dir, "error", rmErr.Error())
		}
		inst.SetStatus(instance.NotRunning(time.Now()))
		inst.Release()
		c.publish(id, inst.Status())
		log.Warn("launch failed", "dir", dir, "error", err.Error())
		return "", errors.NewInstanceError("launch failed", err).
			WithInstanceID(id).
			WithProfileDir(dir)
	}

	inst.Attach(proc)
	inst.SetStatus(instance.Running(time.Now()))

	// A shutdown may have cleared the registry while the browser launched.
	if cur, ok := c.registry.Get(id); !ok || cur != inst {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CleanupTimeout)
		if err := inst.Terminate(tctx, c.launcher); err != nil {
			log.Warn("failed to stop browser launched during shutdown", "error", err.Error())
		}
		cancel()
		inst.SetStatus(instance.NotRunning(time.Now()))
		inst.Release()
		c.publish(id, inst.Status())
		return "", errors.ErrShuttingDown
	}

	c.publish(id, inst.Status())
	c.updateRunning()
	inst.Release()

	log.Info("browser running", "pid", inst.PID(), "elapsed_ms", time.Since(start).Milliseconds())
	go c.watchDisconnect(id, inst)
	return id, nil
}

// Stop stops the instance for id, waiting for any operation in progress on
// it. The instance is removed even when cleanup fails. A forced kill after
// the graceful close timed out counts as success.
func (c *Controller) Stop(ctx context.Context, id string) error {
	inst, ok := c.registry.Get(id)
	if !ok {
		return errors.ErrInstanceNotFound
	}
	if err := inst.Acquire(ctx); err != nil {
		return fmt.Errorf("waiting for instance %s: %w", id, err)
	}
	defer inst.Release()

	// A failed launch or a reconciliation may have removed it meanwhile.
	if cur, ok := c.registry.Get(id); !ok || cur != inst {
		return errors.ErrInstanceNotFound
	}
	return c.stopLocked(ctx, id, inst)
}

// stopLocked tears down inst. The caller holds its operation lock.
func (c *Controller) stopLocked(ctx context.Context, id string, inst *instance.Instance) error {
	log := c.logger.WithInstance(id)

	s := inst.Status()
	s.InProgress = true
	s.Action = instance.ActionStopping
	inst.SetStatus(s)
	c.publish(id, s)

	pid := inst.PID()
	err := inst.Terminate(ctx, c.launcher)

	c.registry.RemoveIf(id, inst)
	inst.SetStatus(instance.NotRunning(time.Now()))
	c.publish(id, inst.Status())
	c.updateRunning()

	switch {
	case err == nil:
		c.metrics.Stop(metrics.ResultSuccess)
		log.Info("browser stopped", "pid", pid)
		return nil
	case errors.Is(err, errors.ErrCleanupTimeout):
		c.metrics.Stop(metrics.ResultForced)
		log.Warn("graceful close timed out, browser killed", "pid", pid)
		return nil
	default:
		c.metrics.Stop(metrics.ResultFailure)
		log.Error("browser cleanup failed", "pid", pid, "error", err.Error())
		// The browser may still be running unsupervised.
		return errors.NewInstanceError("stop failed", err).
			WithInstanceID(id).
			WithProfileDir(inst.Dir).
			WithSeverity(errors.SeverityCritical)
	}
}

// Refresh records a successful liveness check.
func (c *Controller) Refresh(id string, inst *instance.Instance, at time.Time) {
	s := inst.Status()
	s.IsRunning = true
	s.LastChecked = at
	inst.SetStatus(s)
	c.publish(id, s)
}

// Reconcile removes an instance whose browser failed its liveness check.
// The caller holds its operation lock.
func (c *Controller) Reconcile(ctx context.Context, id string, inst *instance.Instance, cause error) {
	c.reconcile(ctx, id, inst, cause, metrics.SourcePoll)
}

func (c *Controller) reconcile(ctx context.Context, id string, inst *instance.Instance, cause error, source string) {
	log := c.logger.WithInstance(id)

	// Kill whatever is left of the process and clean the lock artifacts.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CleanupTimeout)
	err := inst.Terminate(tctx, c.launcher)
	cancel()
	if err != nil && !errors.Is(err, errors.ErrCleanupTimeout) {
		log.Warn("cleanup of dead browser failed", "error", err.Error())
	}

	c.registry.RemoveIf(id, inst)
	inst.SetStatus(instance.NotRunning(time.Now()))
	c.publish(id, inst.Status())
	c.updateRunning()
	c.metrics.Reconciliation(source)

	log.Info("browser no longer running", "source", source, "cause", cause.Error())
}

// watchDisconnect reconciles inst as soon as its DevTools connection drops,
// without waiting for the next poll.
func (c *Controller) watchDisconnect(id string, inst *instance.Instance) {
	ch := inst.Disconnected()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-c.done:
		return
	}

	// Busy means a stop, check or shutdown is already handling it.
	if !inst.TryAcquire() {
		return
	}
	defer inst.Release()

	if cur, ok := c.registry.Get(id); !ok || cur != inst || !inst.Attached() {
		return
	}
	c.reconcile(context.Background(), id, inst, errDisconnected, metrics.SourceDisconnect)
}

// Status returns id's status, or a not-running status for unknown ids.
func (c *Controller) Status(id string) instance.Status {
	return c.registry.Status(id, time.Now())
}

// Statuses snapshots the status of every registered instance.
func (c *Controller) Statuses() map[string]instance.Status {
	return c.registry.Statuses()
}

// ShutdownAll stops every instance, bounded by the shutdown timeout, and
// leaves the controller usable afterwards. Instances still stopping when the
// bound elapses are abandoned to their own kill-grace path; the registry is
// cleared either way and ErrShutdownTimeout returned.
func (c *Controller) ShutdownAll(ctx context.Context) error {
	return c.shutdown(ctx, false)
}

// Close is ShutdownAll for application exit: new launches stay refused and
// polling stays stopped. Calls while a Close is running, or after it, return
// nil immediately.
func (c *Controller) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := c.shutdown(ctx, true)
	close(c.done)
	return err
}

func (c *Controller) shutdown(ctx context.Context, terminal bool) error {
	c.mu.Lock()
	c.quiescing = true
	c.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(c.cfg.ShutdownTimeout)
	defer timer.Stop()

	// A health cycle still in flight finishes inside the bound.
	polling := c.monitor.Running()
	monitorStopped := make(chan struct{})
	go func() {
		defer close(monitorStopped)
		c.monitor.Stop()
	}()

	insts := c.registry.Instances()
	c.logger.Info("stopping all browsers", "count", c.registry.Len())

	var (
		wg      conc.WaitGroup
		pending atomic.Int32
	)
	pending.Store(int32(len(insts)))
	for _, inst := range insts {
		wg.Go(func() {
			defer pending.Add(-1)
			// Not bound by ctx: a straggler keeps going after the deadline.
			_ = inst.Acquire(context.Background())
			defer inst.Release()
			// Already torn down, or replaced by a newer launch. A straggler
			// the registry forgot is still stopped.
			if cur, ok := c.registry.Get(inst.ID); (ok && cur != inst) || !inst.Attached() {
				return
			}
			if err := c.stopLocked(context.Background(), inst.ID, inst); err != nil {
				c.logger.Warn("stop during shutdown failed", "instance_id", inst.ID, "error", err.Error())
			}
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := wg.WaitAndRecover(); r != nil {
			c.logger.Error("stop during shutdown panicked", "panic", r.String())
		}
		<-monitorStopped
	}()

	var err error
	select {
	case <-done:
	case <-timer.C:
		err = errors.Wrapf(errors.ErrShutdownTimeout, "%d browser(s) still stopping", pending.Load())
	case <-ctx.Done():
		err = fmt.Errorf("%w: %w", errors.ErrShutdownTimeout, ctx.Err())
	}

	if abandoned := c.registry.Clear(); len(abandoned) > 0 {
		c.logger.Warn("abandoned browsers still stopping", "count", len(abandoned))
	}
	c.updateRunning()
	c.metrics.Shutdown(time.Since(start))
	c.logger.Info("all browsers stopped", "elapsed_ms", time.Since(start).Milliseconds(), "timed_out", err != nil)

	if !terminal {
		c.mu.Lock()
		c.quiescing = false
		c.mu.Unlock()
		if polling {
			c.resumePolling(monitorStopped)
		}
	}
	return err
}

// resumePolling restarts the monitor once its stopped cycle has returned,
// unless another shutdown began in the meantime.
func (c *Controller) resumePolling(stopped <-chan struct{}) {
	restart := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.quiescing && !c.closing.Load() {
			c.monitor.Start()
		}
	}
	select {
	case <-stopped:
		restart()
	default:
		go func() {
			<-stopped
			restart()
		}()
	}
}

func (c *Controller) publish(id string, s instance.Status) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(instance.NewStatusEvent(id, s))
}

func (c *Controller) updateRunning() {
	if c.metrics == nil {
		return
	}
	n := 0
	for _, s := range c.registry.Statuses() {
		if s.IsRunning {
			n++
		}
	}
	c.metrics.SetRunning(n)
}
