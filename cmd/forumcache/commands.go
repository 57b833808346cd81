package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/goforj/forumcache"
	"github.com/goforj/forumcache/bootstrap"
	"github.com/goforj/forumcache/cachecore"
	"github.com/goforj/forumcache/container"
)

var errMiss = errors.New("cache miss")

func newDriversCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List registered drivers and whether they are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			selector, err := a.selector(ctx)
			if err != nil {
				return err
			}
			registry, err := a.registry(ctx)
			if err != nil {
				return err
			}
			supported := selector.Detect(ctx)
			preferred := cachecore.NormalizeDriverID(a.cfg.Accelerator)
			for _, id := range registry.IDs() {
				status := "unavailable"
				if slices.Contains(supported, id) {
					status = "available"
				}
				marker := " "
				if id == preferred {
					marker = "*"
				}
				printf(cmd, "%s %-10s %s\n", marker, id, status)
			}
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the cached value for KEY as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			v, ok := store.Get(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("%s: %w", args[0], errMiss)
			}
			body, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", body)
			return nil
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store VALUE under KEY",
		Long: `Store VALUE under KEY. VALUE is parsed as JSON; anything that is not
valid JSON is stored as a string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := store.Set(cmd.Context(), args[0], parseValue(args[1]), ttl)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: not stored (driver %s)", args[0], store.DriverID())
			}
			printf(cmd, "stored %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "time to live (default: configured TTL)")
	return cmd
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Remove KEY from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			if !store.Delete(cmd.Context(), args[0]) {
				return fmt.Errorf("%s: delete failed", args[0])
			}
			printf(cmd, "deleted %s\n", args[0])
			return nil
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [SCOPE]",
		Short: "Remove every key in SCOPE, or everything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			scope := ""
			if len(args) == 1 {
				scope = args[0]
			}
			if !store.Clear(cmd.Context(), scope) {
				return errors.New("clear failed")
			}
			if scope == "" {
				printf(cmd, "cleared all entries\n")
			} else {
				printf(cmd, "cleared scope %s\n", scope)
			}
			return nil
		},
	}
}

func newInvalidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate",
		Short: "Touch the sentinel so every current key is retired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			before := store.Prefix()
			if !store.InvalidateCache(cmd.Context()) {
				return errors.New("invalidate failed")
			}
			printf(cmd, "prefix %s -> %s\n", before, store.Prefix())
			return nil
		},
	}
}

func newPrefixCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prefix",
		Short: "Print the current key prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", store.Prefix())
			return nil
		},
	}
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the effective cache settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd, "Cache:\n")
			printf(cmd, "  Level:       %d\n", store.Level())
			printf(cmd, "  Enabled:     %t\n", store.Enabled())
			printf(cmd, "  Driver:      %s\n", store.DriverID())
			printf(cmd, "  Accelerator: %s\n", a.cfg.Accelerator)
			printf(cmd, "  Default TTL: %s\n", store.DefaultTTL())
			printf(cmd, "  Prefix:      %s\n", store.Prefix())
			printf(cmd, "  Cache dir:   %s\n", a.cfg.CacheDir)
			printf(cmd, "  Namespace:   %s\n", a.cfg.Namespace)
			return nil
		},
	}
}

func newServicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List services registered in the container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range a.container.Names() {
				if target := a.container.Resolve(name); target != name {
					printf(cmd, "%s -> %s\n", name, target)
					continue
				}
				printf(cmd, "%s\n", name)
			}
			return nil
		},
	}
}

func (a *app) registry(ctx context.Context) (*forumcache.Registry, error) {
	return container.Get[*forumcache.Registry](ctx, a.container, bootstrap.ServiceCacheRegistry)
}
