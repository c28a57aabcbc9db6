// cachectl is an operational tool for inspecting and mutating a
// tiercache store from the command line. It speaks to the same SQLite
// file or Redis instance an application uses, so operators can check
// what is cached, prune expired entries, or clear a namespace without
// touching the application.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	str2duration "github.com/xhit/go-str2duration/v2"
	"go.uber.org/zap"

	"github.com/helioslabs/tiercache/cache"
)

var (
	flagStorage   string
	flagDB        string
	flagRedisURL  string
	flagNamespace string
	flagConfig    string
	flagTTL       string
	flagVerbose   bool
)

func buildService(ctx context.Context) (*cache.Service, error) {
	var opts []cache.Option
	if flagConfig != "" {
		fileOpts, err := cache.OptionsFromFile(flagConfig)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fileOpts...)
	}
	opts = append(opts, cache.OptionsFromEnv()...)
	if flagStorage != "" {
		opts = append(opts, cache.WithStorage(cache.Storage(flagStorage)))
	}
	if flagDB != "" {
		opts = append(opts, cache.WithSQLitePath(flagDB))
	}
	if flagRedisURL != "" {
		opts = append(opts, cache.WithRedisURL(flagRedisURL))
	}
	if flagNamespace != "" {
		opts = append(opts, cache.WithNamespace(flagNamespace))
	}
	if flagVerbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithLogger(logger))
	}
	return cache.New(ctx, opts...)
}

func withService(run func(ctx context.Context, svc *cache.Service, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := buildService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()
		return run(ctx, svc, args)
	}
}

func main() {
	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and mutate a tiercache store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagStorage, "storage", "", "storage tier: memory, persistent, or transactional")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "sqlite database path for the persistent tier")
	root.PersistentFlags().StringVar(&flagRedisURL, "redis-url", "", "redis URL for the transactional tier")
	root.PersistentFlags().StringVar(&flagNamespace, "namespace", "", "key namespace")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log cache internals")

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a string value",
		Args:  cobra.ExactArgs(2),
		RunE: withService(func(ctx context.Context, svc *cache.Service, args []string) error {
			var ttl time.Duration
			if flagTTL != "" {
				d, err := str2duration.ParseDuration(flagTTL)
				if err != nil {
					return fmt.Errorf("parsing --ttl: %w", err)
				}
				ttl = d
			}
			return svc.Set(ctx, args[0], args[1], ttl)
		}),
	}
	setCmd.Flags().StringVar(&flagTTL, "ttl", "", "entry TTL (e.g. 30m, 1d); empty uses the configured default")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a string value",
		Args:  cobra.ExactArgs(1),
		RunE: withService(func(ctx context.Context, svc *cache.Service, args []string) error {
			found, val, err := cache.GetAs[string](ctx, svc, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("key %q not cached", args[0])
			}
			fmt.Println(val)
			return nil
		}),
	}

	rmCmd := &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a key (no-op when absent)",
		Args:  cobra.ExactArgs(1),
		RunE: withService(func(ctx context.Context, svc *cache.Service, args []string) error {
			return svc.Remove(ctx, args[0])
		}),
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics",
		Args:  cobra.NoArgs,
		RunE: withService(func(ctx context.Context, svc *cache.Service, args []string) error {
			// Sweep first so size reflects live entries only.
			if err := svc.Prune(ctx); err != nil {
				return err
			}
			s := svc.Stats()
			fmt.Printf("size:    %d\n", s.Size)
			fmt.Printf("hits:    %d\n", s.Hits)
			fmt.Printf("misses:  %d\n", s.Misses)
			fmt.Printf("pruned:  %d\n", s.Pruned)
			if !s.OldestItem.IsZero() {
				fmt.Printf("oldest:  %s\n", s.OldestItem.Format(time.RFC3339))
				fmt.Printf("newest:  %s\n", s.NewestItem.Format(time.RFC3339))
			}
			return nil
		}),
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired entries",
		Args:  cobra.NoArgs,
		RunE: withService(func(ctx context.Context, svc *cache.Service, args []string) error {
			if err := svc.Prune(ctx); err != nil {
				return err
			}
			fmt.Printf("pruned %d entries\n", svc.Stats().Pruned)
			return nil
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the namespace and reset statistics",
		Args:  cobra.NoArgs,
		RunE: withService(func(ctx context.Context, svc *cache.Service, args []string) error {
			return svc.Clear(ctx)
		}),
	}

	root.AddCommand(setCmd, getCmd, rmCmd, statsCmd, pruneCmd, clearCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
