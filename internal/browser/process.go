package browser

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/Iron-Ham/browserfleet/internal/errors"
)

var (
	errKilled        = errors.New("browser was killed")
	errNotConnected  = errors.New("devtools connection not established")
	errProcessExited = errors.New("browser process is not running")
	errNoTargets     = errors.New("browser has no targets")
)

// chromeProcess is a browser started through a chromedp ExecAllocator.
type chromeProcess struct {
	proc          *os.Process
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	killed        atomic.Bool
}

// PID returns the browser pid, or 0 when unknown.
func (c *chromeProcess) PID() int {
	if c.proc == nil {
		return 0
	}
	return c.proc.Pid
}

// executor binds ctx to the browser-level DevTools session.
func (c *chromeProcess) executor(ctx context.Context) (context.Context, error) {
	cc := chromedp.FromContext(c.browserCtx)
	if cc == nil || cc.Browser == nil {
		return nil, errNotConnected
	}
	return cdp.WithExecutor(ctx, cc.Browser), nil
}

// CheckAlive requires all three: the DevTools connection answers, the OS
// process exists, and at least one target is present. Having zero page
// targets is not a failure.
func (c *chromeProcess) CheckAlive(ctx context.Context) error {
	if c.killed.Load() {
		return errKilled
	}
	if err := c.browserCtx.Err(); err != nil {
		return fmt.Errorf("devtools connection lost: %w", err)
	}
	execCtx, err := c.executor(ctx)
	if err != nil {
		return err
	}
	if _, _, _, _, _, err := cdpbrowser.GetVersion().Do(execCtx); err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	if !processAlive(c.PID()) {
		return errProcessExited
	}
	targets, err := target.GetTargets().Do(execCtx)
	if err != nil {
		return fmt.Errorf("get targets: %w", err)
	}
	if len(targets) == 0 {
		return errNoTargets
	}
	return nil
}

// ClosePages closes every page target, collecting per-page failures.
func (c *chromeProcess) ClosePages(ctx context.Context) error {
	execCtx, err := c.executor(ctx)
	if err != nil {
		return err
	}
	targets, err := target.GetTargets().Do(execCtx)
	if err != nil {
		return fmt.Errorf("get targets: %w", err)
	}

	var errs []error
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		tctx, cancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(t.TargetID))
		err := await(ctx, func() error { return chromedp.Run(tctx, page.Close()) })
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("close page %s: %w", t.TargetID, err))
		}
	}
	return errors.Join(errs...)
}

// Close asks the browser to exit through DevTools and releases the allocator.
func (c *chromeProcess) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(c.browserCtx) }()
	select {
	case err := <-done:
		c.allocCancel()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill terminates the OS process and tears down both contexts.
func (c *chromeProcess) Kill() error {
	c.killed.Store(true)
	var err error
	if c.proc != nil {
		if kerr := c.proc.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = kerr
		}
	}
	c.browserCancel()
	c.allocCancel()
	return err
}

// Disconnected is closed when the DevTools connection ends.
func (c *chromeProcess) Disconnected() <-chan struct{} {
	return c.browserCtx.Done()
}
