// Package health periodically verifies that every registered browser
// instance is still alive and hands dead ones to a Reconciler.
//
// A check never waits for an instance's operation lock: an instance that is
// launching, stopping or already being checked is skipped until the next
// cycle.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/browserfleet/internal/instance"
	"github.com/Iron-Ham/browserfleet/internal/logging"
	"github.com/Iron-Ham/browserfleet/internal/metrics"
)

// Reconciler receives the outcome of a check. Both methods are called while
// the monitor holds inst's operation lock.
type Reconciler interface {
	// Refresh records that inst was verified alive at the given time.
	Refresh(id string, inst *instance.Instance, at time.Time)

	// Reconcile removes an instance whose browser is gone.
	Reconcile(ctx context.Context, id string, inst *instance.Instance, cause error)
}

// Result is the outcome of checking one instance.
type Result string

const (
	ResultAlive   Result = metrics.CheckAlive
	ResultDead    Result = metrics.CheckDead
	ResultSkipped Result = metrics.CheckSkipped
)

// Config holds the polling cadence.
type Config struct {
	// Interval between cycles (default: 5s).
	Interval time.Duration

	// ProbeTimeout bounds each liveness probe (default: 2s).
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default polling configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Second,
		ProbeTimeout: 2 * time.Second,
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records check outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

// Monitor polls the registry on a fixed interval.
type Monitor struct {
	registry   *instance.Registry
	reconciler Reconciler
	cfg        Config
	logger     *logging.Logger
	metrics    *metrics.Collector

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewMonitor creates a stopped Monitor. Zero config fields take defaults.
func NewMonitor(registry *instance.Registry, reconciler Reconciler, cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}

	m := &Monitor{
		registry:   registry,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("health")
	return m
}

// Start begins polling. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.stopped = make(chan struct{})
	go m.loop(ctx, m.stopped)

	m.logger.Debug("health monitor started", "interval", m.cfg.Interval.String())
}

// Stop cancels polling and waits for an in-flight cycle to finish. It is
// safe to call repeatedly, and the monitor may be started again afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, stopped := m.cancel, m.stopped
	m.cancel, m.stopped = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped

	m.logger.Debug("health monitor stopped")
}

// Running reports whether the polling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *Monitor) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll runs one cycle: every registered instance is checked concurrently.
func (m *Monitor) Poll(ctx context.Context) map[string]Result {
	ids := m.registry.IDs()
	results := make(map[string]Result, len(ids))
	if len(ids) == 0 {
		return results
	}

	var (
		mu sync.Mutex
		wg conc.WaitGroup
	)
	for _, id := range ids {
		wg.Go(func() {
			r := m.Check(ctx, id)
			mu.Lock()
			results[id] = r
			mu.Unlock()
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		m.logger.Error("health check panicked", "panic", r.String())
	}
	return results
}

// Check probes a single instance and reports the outcome to the reconciler.
func (m *Monitor) Check(ctx context.Context, id string) Result {
	r := m.check(ctx, id)
	m.metrics.HealthCheck(string(r))
	return r
}

func (m *Monitor) check(ctx context.Context, id string) Result {
	inst, ok := m.registry.Get(id)
	if !ok {
		return ResultSkipped
	}
	if !inst.TryAcquire() {
		return ResultSkipped
	}
	defer inst.Release()

	// The id may have been stopped and relaunched between Get and TryAcquire.
	if cur, ok := m.registry.Get(id); !ok || cur != inst {
		return ResultSkipped
	}
	if inst.Status().InProgress {
		return ResultSkipped
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := inst.CheckAlive(probeCtx)
	cancel()

	if err == nil {
		m.reconciler.Refresh(id, inst, time.Now())
		return ResultAlive
	}
	if ctx.Err() != nil {
		return ResultSkipped
	}

	m.logger.Info("instance failed liveness check",
		"instance_id", id,
		"pid", inst.PID(),
		"error", err.Error())
	m.reconciler.Reconcile(ctx, id, inst, err)
	return ResultDead
}
