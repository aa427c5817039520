package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"cacheful/internal/app"
	"cacheful/internal/cachestore"
	"cacheful/internal/config"
	"cacheful/internal/pidlock"
	logx "cacheful/pkg/logx"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	config  string
	envFile string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "cacheful",
		Short:         "Run an action on a daily-anchored period, one instance at a time",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(f.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error { return runApp(cmd, f) },
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "path to config file (yaml or json); empty uses UPDATE_* env")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", "", "dotenv file to load (default .env when present)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the timer and block until interrupted",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, args []string) error { return runApp(cmd, f) },
		},
		newLockCmd(),
		newCacheCmd(f),
	)
	return root
}

func runApp(cmd *cobra.Command, f *rootFlags) error {
	a, err := app.New(f.config)
	if err != nil {
		return err
	}
	return a.Run(cmd.Context())
}

func newLockCmd() *cobra.Command {
	lock := &cobra.Command{Use: "lock", Short: "Inspect the tracking file"}

	var pidFile string
	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether a timer holds the tracking file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := pidlock.Inspect(pidFile)
			out := cmd.OutOrStdout()
			switch {
			case errors.Is(err, pidlock.ErrCorrupt):
				fmt.Fprintf(out, "%s: held, unreadable pid\n", st.Path)
				return nil
			case err != nil:
				return err
			case !st.Held:
				fmt.Fprintf(out, "%s: free\n", st.Path)
			default:
				fmt.Fprintf(out, "%s: held by pid %d\n", st.Path, st.PID)
			}
			return nil
		},
	}
	status.Flags().StringVar(&pidFile, "pid-file", pidlock.DefaultPath, "tracking file path")
	lock.AddCommand(status)
	return lock
}

func newCacheCmd(f *rootFlags) *cobra.Command {
	cache := &cobra.Command{Use: "cache", Short: "Read and write rows of the configured cache"}

	open := func() (cachestore.Store, error) {
		cfg, err := config.NewManager(f.config).Load()
		if err != nil {
			return nil, err
		}
		st, err := app.OpenCache(cfg, logx.Nop())
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, errors.New("cache.driver is none")
		}
		return st, nil
	}

	cache.AddCommand(
		&cobra.Command{
			Use:   "get <id>",
			Short: "Print a row as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := open()
				if err != nil {
					return err
				}
				defer st.Close()
				row, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				return enc.Encode(row)
			},
		},
		&cobra.Command{
			Use:   "set <id> [values...]",
			Short: "Insert or replace a row",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := open()
				if err != nil {
					return err
				}
				defer st.Close()
				values := make([]any, 0, len(args)-1)
				for _, v := range args[1:] {
					values = append(values, v)
				}
				return st.Set(cmd.Context(), cachestore.Row{ID: args[0], Values: values})
			},
		},
	)
	return cache
}
