package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/apsync/internal/protocol"
	"github.com/roach88/apsync/internal/rewards"
)

// ScoutOptions holds flags for the scout command.
type ScoutOptions struct {
	*RootOptions
	ConnectOptions

	Hint    bool
	Timeout time.Duration
}

// NewScoutCommand creates the scout command.
func NewScoutCommand(rootOpts *RootOptions) *cobra.Command {
	return newScoutCommand(&ScoutOptions{RootOptions: rootOpts})
}

func newScoutCommand(opts *ScoutOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scout <location>...",
		Short: "Ask the server what is at locations",
		Long: `Connect, scout the given location ids once and disconnect.

Items that belong to this slot are printed with their catalog name.

Example:
  apsync scout --server localhost:38281 --slot Ammy 100012 0x30D41
  apsync scout --hint --timeout 2s 300001`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScout(cmd, opts, args)
		},
	}

	addConnectFlags(cmd, &opts.ConnectOptions)
	cmd.Flags().BoolVar(&opts.Hint, "hint", false, "create hints for the scouted locations")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "how long to wait for the answer (APSYNC_SCOUT_TIMEOUT)")

	return cmd
}

func runScout(cmd *cobra.Command, opts *ScoutOptions, args []string) error {
	out := opts.formatter(cmd)

	locations, err := parseArgs(args)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid location", err)
	}
	cfg, err := loadConfig(cmd, &opts.ConnectOptions)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	if cmd.Flags().Changed("timeout") {
		cfg.ScoutTimeout = opts.Timeout
	}

	logger := stderrLogger(opts.RootOptions, cmd, cfg)
	sess, err := openSession(cfg, &opts.ConnectOptions, logger, rewards.NewState(logger), false)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to start", err)
	}
	defer sess.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := sess.engine.Connect(cfg.Server, cfg.Slot, cfg.Password); err != nil {
		return out.Fail(ExitFailure, CodeConnect, sess.engine.Status(), err)
	}
	if err := sess.awaitConnected(ctx, cfg.Tick); err != nil {
		var he *handshakeError
		if errors.As(err, &he) {
			return out.Fail(ExitFailure, CodeConnect, he.Status, nil)
		}
		return WrapExitError(ExitFailure, "scout interrupted", err)
	}

	hint := protocol.HintNone
	if opts.Hint {
		hint = protocol.HintCreate
	}
	found, err := sess.engine.ScoutSync(ctx, locations, hint, cfg.ScoutTimeout)
	if err != nil {
		return out.Fail(ExitFailure, CodeScout, "scout failed", err)
	}
	return out.Success(newScoutResult(sess.engine, found))
}
