// Package browser launches and tears down Chromium-family browser processes,
// one per profile directory, and owns the on-disk lock artifacts Chrome leaves
// behind in those directories.
//
// The launcher drives the browser over the DevTools protocol (chromedp) only
// for what lifecycle management needs: a single bootstrap navigation used to
// verify a launch, a liveness probe, and graceful page/browser close.
package browser

import (
	"context"
	"time"
)

// Process is the handle to one launched browser. It is exclusively owned by
// the instance it was attached to; nothing else may stop it.
type Process interface {
	// PID returns the OS process id, or 0 if unknown.
	PID() int

	// CheckAlive runs the liveness check: the DevTools connection answers,
	// the OS process exists and was not killed by us, and at least one
	// target is present.
	CheckAlive(ctx context.Context) error

	// ClosePages closes every open page target.
	ClosePages(ctx context.Context) error

	// Close asks the browser to exit and releases the DevTools connection.
	Close(ctx context.Context) error

	// Kill force-terminates the process. Safe to call more than once.
	Kill() error

	// Disconnected is closed when the DevTools connection to the browser is lost.
	Disconnected() <-chan struct{}
}

// Options configures how browsers are launched and stopped.
type Options struct {
	// ExecutablePath overrides executable discovery when it points at an
	// executable file.
	ExecutablePath string

	// BootstrapURL is navigated once after spawn to verify the launch.
	BootstrapURL string

	WindowWidth  int
	WindowHeight int

	// SettleDelay is waited after the bootstrap navigation before the
	// liveness check.
	SettleDelay time.Duration

	NavigationTimeout time.Duration
	ProbeTimeout      time.Duration

	// KillGrace bounds the graceful close before a force kill.
	KillGrace time.Duration

	// ExtraFlags are appended to the fixed flag set, in "--name" or
	// "--name=value" form.
	ExtraFlags []string
}

// DefaultOptions returns the launch options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		BootstrapURL:      "https://www.google.com/",
		WindowWidth:       1280,
		WindowHeight:      800,
		SettleDelay:       time.Second,
		NavigationTimeout: 30 * time.Second,
		ProbeTimeout:      2 * time.Second,
		KillGrace:         time.Second,
	}
}

// withDefaults fills zero-valued fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BootstrapURL == "" {
		o.BootstrapURL = d.BootstrapURL
	}
	if o.WindowWidth <= 0 {
		o.WindowWidth = d.WindowWidth
	}
	if o.WindowHeight <= 0 {
		o.WindowHeight = d.WindowHeight
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	if o.KillGrace <= 0 {
		o.KillGrace = d.KillGrace
	}
	return o
}
