package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/browserfleet/internal/api"
	"github.com/Iron-Ham/browserfleet/internal/app"
	"github.com/Iron-Ham/browserfleet/internal/config"
	"github.com/Iron-Ham/browserfleet/internal/logging"
)

// shutdownMargin is added to the configured shutdown timeout before a hung
// exit is abandoned.
const shutdownMargin = 3 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser manager until interrupted",
	Long: `Run the browser manager: health-check running browsers and, with --stdio,
answer JSON line requests on stdin with responses and status events on stdout.

On SIGINT or SIGTERM (or when stdin closes in --stdio mode) every browser is
stopped before exit. A second signal, or a shutdown that overruns its
timeout, exits immediately.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveStdio  bool
	serveLaunch []string
)

// exit is replaced in tests.
var exit = os.Exit

func init() {
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "Serve JSON line requests on stdin/stdout")
	serveCmd.Flags().StringSliceVar(&serveLaunch, "launch", nil, "Profile ids to launch at startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	if err := a.Start(); err != nil {
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("failed to start: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launchAtStartup(ctx, a, serveLaunch, cmd.ErrOrStderr())

	var serveErr error
	if serveStdio {
		srv := api.NewServer(a.Service, a.Bus, os.Stdin, os.Stdout, a.Logger)
		serveErr = srv.Serve(ctx)
	} else {
		fmt.Fprintln(cmd.ErrOrStderr(), "browserfleet running; press Ctrl+C to stop")
		<-ctx.Done()
	}
	stop()

	budget := cfg.Shutdown.Timeout() + shutdownMargin
	cancelWatchdog := watchdog(budget, a.Logger)
	defer cancelWatchdog()

	sctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", err)
	}
	return serveErr
}

// launchAtStartup launches each listed profile, reporting failures without
// aborting the rest.
func launchAtStartup(ctx context.Context, a *app.App, ids []string, errOut io.Writer) {
	for _, id := range ids {
		p, ok := a.Store.Get(id)
		if !ok {
			fmt.Fprintf(errOut, "launch %s: no such profile\n", id)
			continue
		}
		if res := a.Service.Launch(ctx, p); !res.OK {
			fmt.Fprintf(errOut, "launch %s: %s\n", id, res.Error)
		}
	}
}

// watchdog exits the process when a second signal arrives or when budget
// elapses before the returned cancel func is called.
func watchdog(budget time.Duration, logger *logging.Logger) (cancel func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	timer := time.NewTimer(budget)

	go func() {
		select {
		case sig := <-sigs:
			logger.Warn("second signal received, exiting without cleanup", "signal", sig.String())
			exit(1)
		case <-timer.C:
			logger.Error("shutdown overran its budget, exiting", "budget", budget.String())
			exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		timer.Stop()
		close(done)
	}
}
