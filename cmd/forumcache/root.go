package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/goforj/forumcache"
	"github.com/goforj/forumcache/bootstrap"
	"github.com/goforj/forumcache/container"
)

type rootOptions struct {
	configPath string
	driver     string
	verbose    bool
}

// app is the per-invocation state shared by subcommands.
type app struct {
	cfg       forumcache.Config
	container *container.Container
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	root := &cobra.Command{
		Use:   "forumcache",
		Short: "Inspect and maintain a forum cache",
		Long: `forumcache operates on the cache of a forum installation.

It reads the installation's cache settings, selects the same driver the
forum would, and runs maintenance operations against it.

Common usage:
  forumcache drivers                       # List drivers usable here
  forumcache get board_index               # Print a cached value
  forumcache clear users                   # Drop every key in the users scope
  forumcache invalidate                    # Retire every key under the current prefix`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the cache settings YAML file")
	root.PersistentFlags().StringVarP(&opts.driver, "driver", "d", "", "use this driver instead of the configured accelerator")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log driver activity to stderr")

	root.AddCommand(
		newDriversCmd(a),
		newGetCmd(a),
		newSetCmd(a),
		newDeleteCmd(a),
		newClearCmd(a),
		newInvalidateCmd(a),
		newPrefixCmd(a),
		newInfoCmd(a),
		newServicesCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command, opts *rootOptions) error {
	cfg := forumcache.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := forumcache.LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	c, err := bootstrap.New(cfg, bootstrap.WithLogger(logger))
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.container = c

	if opts.driver != "" {
		selector, err := a.selector(cmd.Context())
		if err != nil {
			return err
		}
		if _, err := selector.Select(cmd.Context(), forumcache.DriverID(opts.driver), false); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) store(ctx context.Context) (*forumcache.Store, error) {
	return container.Get[*forumcache.Store](ctx, a.container, bootstrap.AliasCacheStore)
}

func (a *app) selector(ctx context.Context) (*forumcache.Selector, error) {
	return container.Get[*forumcache.Selector](ctx, a.container, bootstrap.ServiceCacheSelector)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
