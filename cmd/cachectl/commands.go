package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vidfeed/fetchcache/cache"
	"github.com/vidfeed/fetchcache/config"
	"github.com/vidfeed/fetchcache/entity"
	"github.com/vidfeed/fetchcache/env"
	"github.com/vidfeed/fetchcache/logger"
	"github.com/xhit/go-str2duration/v2"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and operate the fetch-through cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "YAML settings file (env "+env.Prefix+"CONFIG)")
	root.PersistentFlags().String("env-file", "", "dotenv file used as a fallback for the environment")
	root.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: console or json")

	root.AddCommand(
		newComponentsCommand(),
		newKeyCommand(),
		newFlushCommand(),
		newLockCommand(),
		newPingCommand(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := env.FlagOrEnv(cmd, "config", env.Prefix+"CONFIG", "")
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.Load(path, envFile)
}

// openLayer loads the settings and builds the layer. The caller closes it.
func openLayer(cmd *cobra.Command) (*cache.Layer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cfg.Build(commandLogger(cmd, cfg))
}

// commandLogger prefers the log flags, then the environment, then the
// settings file.
func commandLogger(cmd *cobra.Command, cfg *config.Config) logger.Logger {
	return env.NewLogger(cmd, cfg.Log.Format, cfg.Log.Level)
}

func lookupDefinition(component string) (cache.Definition, error) {
	def, ok := entity.Definition(component)
	if !ok {
		return cache.Definition{}, errors.Newf("unknown component %q (known: %s)", component, strings.Join(entity.Components(), ", "))
	}
	return def, nil
}

func newComponentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "components",
		Short: "List the registered cache components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tiers, err := cfg.TierTable()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "COMPONENT\tTIER\tTTL\tBACKEND\tCACHE MISSING")
			for _, name := range entity.Components() {
				def, _ := entity.Definition(name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", name, def.Tier, tiers.Duration(def.Tier), def.Backend, def.CacheMissing)
			}
			return w.Flush()
		},
	}
}

func newKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "key <component> <id>",
		Short: "Print the backend key for an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := lookupDefinition(args[0]); err != nil {
				return err
			}
			keys, err := cache.NewKeys(cfg.Prefix, cfg.SchemaVersion)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), keys.Compose(args[0], args[1]))
			return nil
		},
	}
}

func newFlushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush <component> <id>...",
		Short: "Remove entries so the next read goes to the source",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := lookupDefinition(args[0])
			if err != nil {
				return err
			}
			if def.Backend == cache.KindLocal {
				return errors.Newf("%s lives in each worker's process memory and cannot be flushed from here", def.Component)
			}
			layer, err := openLayer(cmd)
			if err != nil {
				return err
			}
			defer layer.Close()
			for _, id := range args[1:] {
				existed, err := layer.Flush(cmd.Context(), def.Backend, def.Component, id)
				if err != nil {
					return err
				}
				state := "absent"
				if existed {
					state = "flushed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", layer.Keys().Compose(def.Component, id), state)
			}
			return nil
		},
	}
}

func newLockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock <component> <id>",
		Short: "Try to take a guard, as a worker would",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := lookupDefinition(args[0])
			if err != nil {
				return err
			}
			if !slices.Contains(entity.Guards(), def.Component) {
				return errors.Newf("%s holds cached values, not guards (guards: %s)", def.Component, strings.Join(entity.Guards(), ", "))
			}
			var ttl time.Duration
			if s, _ := cmd.Flags().GetString("ttl"); s != "" {
				if ttl, err = str2duration.ParseDuration(s); err != nil {
					return errors.Wrapf(err, "invalid --ttl %q", s)
				}
			}
			layer, err := openLayer(cmd)
			if err != nil {
				return err
			}
			defer layer.Close()
			lock, err := cache.NewLock(layer, def)
			if err != nil {
				return err
			}
			acquired, err := lock.Acquire(cmd.Context(), args[1], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tacquired=%s\n", lock.Key(args[1]), strconv.FormatBool(acquired))
			return nil
		},
	}
	cmd.Flags().String("ttl", "", "guard lifetime, e.g. 30s or 1h (default: the component's tier)")
	return cmd
}

func newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Write, read and remove a check entry on the shared backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layer, err := openLayer(cmd)
			if err != nil {
				return err
			}
			defer layer.Close()
			started := time.Now()
			name, err := ping(cmd.Context(), layer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok in %s\n", name, time.Since(started).Round(time.Microsecond))
			return nil
		},
	}
}

func ping(ctx context.Context, layer *cache.Layer) (string, error) {
	backend, err := layer.Selector().Select(ctx, cache.KindShared)
	if err != nil {
		return "", err
	}
	key := layer.Keys().Compose("cachectl_ping", uuid.NewString())
	if err := backend.Set(ctx, key, []byte("pong"), time.Minute); err != nil {
		return backend.Name(), err
	}
	found, val, err := backend.Get(ctx, key)
	if err != nil {
		return backend.Name(), err
	}
	if !found || string(val) != "pong" {
		return backend.Name(), errors.Newf("%s: check entry %s did not read back", backend.Name(), key)
	}
	if _, err := backend.Expire(ctx, key); err != nil {
		return backend.Name(), err
	}
	return backend.Name(), nil
}
