package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/apsync/internal/rewards"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConnectOptions

	MetricsAddr string
	NoReconnect bool
	Play        bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a room and keep the slot in sync",
		Long: `Connect to an Archipelago room as one slot and run the sync loop.

Received items are granted into an in-memory game state. Commands are read
from stdin, one per line:

  check <location>            report a location id
  pickup <item>               report an item pickup
  brush <index>               report a brush acquisition
  shop <shop> <slot>          report a shop purchase
  container <level> <spawn>   report a container
  flag <bit>                  report a global flag
  play | menu                 enter or leave gameplay
  scout <location>...         ask what is at locations
  hint <location>...          scout and create hints
  goal                        report the goal as finished
  sync | resend               resynchronize items or checks
  status                      print the connection status
  quit                        disconnect and exit

Example:
  apsync run --server archipelago.gg:38281 --slot Ammy
  APSYNC_SERVER=localhost:38281 APSYNC_SLOT=Ammy apsync run --play`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	addConnectFlags(cmd, &opts.ConnectOptions)
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (APSYNC_METRICS_ADDR)")
	cmd.Flags().BoolVar(&opts.NoReconnect, "no-reconnect", false, "do not retry a dropped connection")
	cmd.Flags().BoolVar(&opts.Play, "play", false, "start in gameplay instead of the menu")

	return cmd
}

func runSync(cmd *cobra.Command, opts *RunOptions) error {
	out := opts.formatter(cmd)

	cfg, err := loadConfig(cmd, &opts.ConnectOptions)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if opts.NoReconnect {
		cfg.AutoReconnect = false
	}

	logger := stderrLogger(opts.RootOptions, cmd, cfg)
	state := rewards.NewState(logger)

	var metricsLn net.Listener
	if cfg.MetricsAddr != "" {
		if metricsLn, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			return out.Fail(ExitCommandError, CodeConfig, "cannot serve metrics", err)
		}
		defer metricsLn.Close()
	}

	sess, err := openSession(cfg, &opts.ConnectOptions, logger, state, cfg.AutoReconnect)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to start", err)
	}
	defer sess.Close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.engine.Connect(cfg.Server, cfg.Slot, cfg.Password); err != nil {
		logger.Warn("connect failed", "error", err, "status", sess.engine.Status())
		if !cfg.AutoReconnect {
			return out.Fail(ExitFailure, CodeConnect, sess.engine.Status(), err)
		}
	}
	if opts.Play {
		sess.engine.SetGameplayActive(true)
	}

	con := &console{eng: sess.engine, state: state, out: out, scoutTimeout: cfg.ScoutTimeout}
	g, ctx := errgroup.WithContext(ctx)
	lines := readLines(ctx, cmd.InOrStdin())
	g.Go(func() error {
		return consumerLoop(ctx, sess, con, lines, cfg.Tick)
	})
	if metricsLn != nil {
		serveMetrics(ctx, g, metricsLn, sess.registry, logger)
	}

	logger.Info("sync running", "server", cfg.Server, "slot", cfg.Slot, "db", cfg.Database)
	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, errQuit), errors.Is(err, context.Canceled):
		logger.Info("sync stopped", "status", sess.engine.Status())
		return nil
	default:
		return WrapExitError(ExitFailure, "sync failed", err)
	}
}

// consumerLoop is the only goroutine that ticks the engine. Console
// commands run between ticks so they never race a grant.
func consumerLoop(ctx context.Context, sess *session, con *console, lines <-chan string, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sess.engine.Tick(); err != nil {
				sess.logger.Warn("tick finished with errors", "error", err)
			}
		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep syncing until signalled.
				lines = nil
				continue
			}
			if err := con.exec(ctx, line); err != nil {
				return err
			}
		}
	}
}

// readLines feeds lines from r into a channel closed at EOF. A read
// blocked on an open stdin outlives ctx; nothing else reads stdin.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// serveMetrics serves /metrics on ln until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, ln net.Listener, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("serving metrics", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
