package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/apsync/internal/config"
	"github.com/roach88/apsync/internal/store"
)

// ProgressOptions holds flags for the progress commands.
type ProgressOptions struct {
	*RootOptions
	Database string
}

// NewProgressCommand creates the progress command and its reset subcommand.
func NewProgressCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProgressOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "List the sessions stored in the progress database",
		Long: `List every slot and seed with stored progress: the last applied item
index and how many checks have been sent.

Example:
  apsync progress --db ./apsync.db
  apsync progress reset Ammy 12345678901234567890`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, st *store.Store, out *OutputFormatter) error {
				sessions, err := st.Sessions(ctx)
				if err != nil {
					return out.Fail(ExitFailure, CodeStore, "failed to list sessions", err)
				}
				return out.Success(newSessionsResult(sessions))
			})
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite progress database (APSYNC_DB)")

	cmd.AddCommand(&cobra.Command{
		Use:           "reset <slot> <seed>",
		Short:         "Forget the progress of one session",
		Long:          "Delete the applied item index and the sent check journal of one slot and seed.\nThe next connection to that seed replays every item from the start.",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := store.NewSessionKey(args[0], args[1])
			if !key.Valid() {
				return opts.formatter(cmd).Fail(ExitCommandError, CodeConfig, "slot and seed are required", nil)
			}
			return withStore(cmd, opts, func(ctx context.Context, st *store.Store, out *OutputFormatter) error {
				if err := st.ResetSession(ctx, key); err != nil {
					return out.Fail(ExitFailure, CodeStore, "failed to reset session", err)
				}
				return out.Success(resetResult{Session: key.String()})
			})
		},
	})

	return cmd
}

func withStore(cmd *cobra.Command, opts *ProgressOptions, fn func(context.Context, *store.Store, *OutputFormatter) error) error {
	out := opts.formatter(cmd)
	cfg, err := config.Load()
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	if cmd.Flags().Changed("db") {
		cfg.Database = opts.Database
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, st, out)
}

type sessionEntry struct {
	Slot       string `json:"slot"`
	Seed       string `json:"seed"`
	LastIndex  int64  `json:"last_index"`
	SentChecks int    `json:"sent_checks"`
}

type sessionsResult struct {
	Sessions []sessionEntry `json:"sessions"`
}

func newSessionsResult(sessions []store.Session) sessionsResult {
	r := sessionsResult{Sessions: make([]sessionEntry, 0, len(sessions))}
	for _, s := range sessions {
		r.Sessions = append(r.Sessions, sessionEntry{
			Slot:       s.Key.Slot,
			Seed:       s.Key.Seed,
			LastIndex:  s.LastIndex,
			SentChecks: s.SentChecks,
		})
	}
	return r
}

func (r sessionsResult) Text() string {
	if len(r.Sessions) == 0 {
		return "no stored sessions\n"
	}
	var b strings.Builder
	for _, s := range r.Sessions {
		index := "none"
		if s.LastIndex != store.NoProgress {
			index = fmt.Sprint(s.LastIndex)
		}
		fmt.Fprintf(&b, "%s@%s  last index %s, %d checks sent\n", s.Slot, s.Seed, index, s.SentChecks)
	}
	return b.String()
}

type resetResult struct {
	Session string `json:"session"`
}

func (r resetResult) Text() string { return "reset " + r.Session + "\n" }
