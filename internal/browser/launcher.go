package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/browserfleet/internal/errors"
	"github.com/Iron-Ham/browserfleet/internal/logging"
)

// ChromeLauncher spawns and stops Chrome-family browsers through chromedp.
type ChromeLauncher struct {
	opts    Options
	fs      afero.Fs
	logger  *logging.Logger
	resolve func(string) (string, error)
}

// NewChromeLauncher creates a launcher. Zero-valued options fall back to
// DefaultOptions.
func NewChromeLauncher(opts Options, logger *logging.Logger) *ChromeLauncher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ChromeLauncher{
		opts:    opts.withDefaults(),
		fs:      afero.NewOsFs(),
		logger:  logger.WithComponent("launcher"),
		resolve: ResolveExecutable,
	}
}

// Options returns the effective launch options.
func (l *ChromeLauncher) Options() Options {
	return l.opts
}

// Launch starts a browser on profileDir and verifies it: spawn, bootstrap
// navigation, settle delay, then the liveness check. Any failure after the
// spawn tears the browser down before returning. Stage failures are
// *errors.LaunchError values matching errors.ErrLaunchFailure.
func (l *ChromeLauncher) Launch(ctx context.Context, profileDir string) (Process, error) {
	exe, err := l.resolve(l.opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	if err := l.fs.MkdirAll(profileDir, 0o700); err != nil {
		return nil, errors.NewLaunchError(errors.StageSpawn, fmt.Errorf("create profile dir: %w", err))
	}
	if err := RemoveLockArtifacts(l.fs, profileDir); err != nil {
		l.logger.Warn("failed to remove stale lock artifacts", "dir", profileDir, "error", err.Error())
	}

	start := time.Now()

	// The browser outlives ctx: ctx bounds the launch, not the process.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), Flags(l.opts, exe, profileDir)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			l.logger.Debug("devtools error", "dir", profileDir, "message", fmt.Sprintf(format, args...))
		}),
	)
	p := &chromeProcess{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}

	fail := func(stage errors.Stage, cause error) (Process, error) {
		if err := p.Kill(); err != nil {
			l.logger.Warn("failed to kill browser after launch failure", "dir", profileDir, "error", err.Error())
		}
		if err := RemoveLockArtifacts(l.fs, profileDir); err != nil {
			l.logger.Warn("failed to remove lock artifacts", "dir", profileDir, "error", err.Error())
		}
		l.logger.Info("launch failed",
			"dir", profileDir,
			"stage", string(stage),
			"error", cause.Error(),
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, errors.NewLaunchError(stage, cause)
	}

	if err := await(ctx, func() error { return chromedp.Run(browserCtx) }); err != nil {
		return fail(errors.StageSpawn, err)
	}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		p.proc = c.Browser.Process()
	}

	navCtx, navCancel := context.WithTimeout(browserCtx, l.opts.NavigationTimeout)
	err = await(ctx, func() error { return chromedp.Run(navCtx, chromedp.Navigate(l.opts.BootstrapURL)) })
	navCancel()
	if err != nil {
		return fail(errors.StageBootstrap, fmt.Errorf("navigate %s: %w", l.opts.BootstrapURL, err))
	}

	if l.opts.SettleDelay > 0 {
		t := time.NewTimer(l.opts.SettleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fail(errors.StageVerify, ctx.Err())
		}
	}

	probeCtx, probeCancel := context.WithTimeout(ctx, l.opts.ProbeTimeout)
	err = p.CheckAlive(probeCtx)
	probeCancel()
	if err != nil {
		return fail(errors.StageVerify, err)
	}

	l.logger.Info("browser launched",
		"dir", profileDir,
		"pid", p.PID(),
		"executable", exe,
		"elapsed_ms", time.Since(start).Milliseconds())
	return p, nil
}

// Stop closes proc gracefully within the kill grace and force-kills it
// otherwise, returning errors.ErrCleanupTimeout in that case. The profile's
// lock artifacts are removed on every path.
func (l *ChromeLauncher) Stop(ctx context.Context, proc Process, profileDir string) error {
	defer func() {
		if err := RemoveLockArtifacts(l.fs, profileDir); err != nil {
			l.logger.Warn("failed to remove lock artifacts", "dir", profileDir, "error", err.Error())
		}
	}()
	if proc == nil {
		return nil
	}
	return Shutdown(ctx, proc, l.opts.KillGrace, l.logger)
}

// RemoveLockArtifacts removes the lock artifacts from profileDir on the
// launcher's filesystem.
func (l *ChromeLauncher) RemoveLockArtifacts(profileDir string) error {
	return RemoveLockArtifacts(l.fs, profileDir)
}

// Shutdown closes every page and then the browser, bounded by grace. When the
// bound elapses the process is killed and errors.ErrCleanupTimeout returned.
// A graceful close that fails outright falls back to a kill; the process has
// converged if that kill succeeds.
func Shutdown(ctx context.Context, proc Process, grace time.Duration, logger *logging.Logger) error {
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if err := proc.ClosePages(graceCtx); err != nil {
			logger.Debug("failed to close pages", "pid", proc.PID(), "error", err.Error())
		}
		done <- proc.Close(graceCtx)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if kerr := proc.Kill(); kerr != nil {
			return fmt.Errorf("close browser: %w (kill: %v)", err, kerr)
		}
		if graceCtx.Err() != nil {
			return errors.ErrCleanupTimeout
		}
		logger.Debug("graceful close failed, process killed", "pid", proc.PID(), "error", err.Error())
		return nil
	case <-graceCtx.Done():
		if kerr := proc.Kill(); kerr != nil {
			logger.Warn("force kill failed", "pid", proc.PID(), "error", kerr.Error())
		}
		return errors.ErrCleanupTimeout
	}
}

// await runs fn and returns its result, or ctx's error if ctx ends first. fn
// keeps running in the background in that case; callers tear down whatever
// fn is blocked on.
func await(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
