package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/relaybot/core/cmd"
	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/internal/app"
	"github.com/m3rciful/relaybot/internal/store"
)

func (f *rootFlags) runnerOptions() corecmd.Options {
	return corecmd.Options{
		ConfigPath:        f.configPath,
		DefaultConfigPath: defaultConfigPath,
		EnvFile:           f.envFile,
	}
}

func (f *rootFlags) loadConfig() (*coreconfig.Config, error) {
	opts := f.runnerOptions()
	if err := corecmd.LoadEnv(opts.EnvFile); err != nil {
		return nil, err
	}
	path, err := corecmd.ConfigPath(opts)
	if err != nil {
		return nil, err
	}
	return coreconfig.Load(path)
}

// openStore opens the configured store without the bot. Logging stays off
// so command output is not interleaved with log lines.
func (f *rootFlags) openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.OpenStore(ctx, cfg, nil, func(*coreconfig.Config) error { return nil })
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := flags.runnerOptions()
			opts.Context = cmd.Context()
			opts.LoadConfig = func(path string) (corecmd.ConfigCarrier, error) {
				cfg, err := coreconfig.Load(path)
				if err != nil {
					return nil, err
				}
				return cfg, nil
			}
			opts.Bootstrap = app.Bootstrap
			return corecmd.Run(opts)
		},
	}
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured SQL driver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Storage.SQL() {
				fmt.Fprintf(cmd.OutOrStdout(), "storage driver %q needs no migrations\n", cfg.Storage.Driver)
				return nil
			}
			if err := store.Migrate(cfg.Storage); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Storage.Driver)
			return nil
		},
	}
}

func newSessionsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active help sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := flags.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			active, err := st.Sessions().List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(active) == 0 {
				fmt.Fprintln(out, "no active sessions")
				return nil
			}
			ids := make([]int64, 0, len(active))
			for id := range active {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER ID\tPRODUCT")
			for _, id := range ids {
				fmt.Fprintf(w, "%d\t%s\n", id, active[id])
			}
			return w.Flush()
		},
	}
}

func newBlockedCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "blocked",
		Short: "List blocked users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := flags.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			ids, err := st.Blocks().List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "no blocked users")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}

func newUnblockCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <user-id>",
		Short: "Remove a user from the block list",
		Long: `Remove a user from the block list without the bot running. With the
file driver, stop the bot first: it rewrites the whole document.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || uid <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			st, err := flags.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			err = st.Blocks().Remove(cmd.Context(), uid)
			switch {
			case errors.Is(err, store.ErrNotBlocked):
				fmt.Fprintf(cmd.OutOrStdout(), "user %d was not blocked\n", uid)
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d unblocked\n", uid)
			return nil
		},
	}
}
