package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// outputTheme colors output only when it goes to a terminal.
func outputTheme(w io.Writer) theme {
	f, ok := w.(*os.File)
	return newTheme(ok && isTerminal(f))
}

func newCacheCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local query cache",
	}

	cmd.AddCommand(
		newCacheStatsCmd(opts),
		newCacheListCmd(opts),
		newCacheClearCmd(opts),
		newCacheRemoveCmd(opts),
		newCacheCleanupCmd(opts),
		newCacheLookupCmd(opts),
		newCacheStoreCmd(opts),
		newCacheNormalizeCmd(opts),
	)
	return cmd
}

// withCache opens the cache for the duration of fn.
func withCache(opts *globalOptions, fn func(env *cacheEnv) error) error {
	env, err := openCacheEnv(opts)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()
	return fn(env)
}

func newCacheStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(opts, func(env *cacheEnv) error {
				stats, err := env.cache.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, err = fmt.Fprint(out, formatStats(outputTheme(out), stats, env.cache.Dir()))
				return err
			})
		},
	}
}

func newCacheListCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently used cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(opts, func(env *cacheEnv) error {
				entries, err := env.cache.ListAll(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, err = fmt.Fprint(out, formatEntries(outputTheme(out), entries, time.Now()))
				return err
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "maximum number of entries to show (0 for all)")
	return cmd
}

func newCacheClearCmd(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cache entry and reset hit/miss counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			th := outputTheme(out)

			if !yes {
				if !isTerminal(os.Stdin) {
					return errors.New("refusing to clear the cache without confirmation; pass --yes")
				}
				fmt.Fprintln(out, th.warning.Render("This will delete all cached queries."))
				confirm := false
				if err := huh.NewConfirm().
					Title("Are you sure?").
					Affirmative("Yes").
					Negative("No").
					Value(&confirm).
					Run(); err != nil {
					return fmt.Errorf("confirm clear: %w", err)
				}
				if !confirm {
					fmt.Fprintln(out, th.muted.Render("Cancelled."))
					return nil
				}
			}

			return withCache(opts, func(env *cacheEnv) error {
				n, err := env.cache.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, th.ok.Render(fmt.Sprintf("✓ Cleared %d cached queries", n)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newCacheRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <hash>",
		Short: "Remove one cache entry by its hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := args[0]
			return withCache(opts, func(env *cacheEnv) error {
				removed, err := env.cache.RemoveByHash(cmd.Context(), hash)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				th := outputTheme(out)
				if removed {
					fmt.Fprintln(out, th.ok.Render("✓ Removed cached query with hash "+hash))
				} else {
					fmt.Fprintln(out, th.warning.Render("Query with hash "+hash+" not found in cache"))
				}
				return nil
			})
		},
	}
}

func newCacheCleanupCmd(opts *globalOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove entries older than the configured TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(opts, func(env *cacheEnv) error {
				if !cmd.Flags().Changed("days") {
					days = env.cfg.Cache.TTLDays
				}
				out := cmd.OutOrStdout()
				th := outputTheme(out)
				ctx := cmd.Context()

				fmt.Fprintln(out, th.title.Render(fmt.Sprintf("Cleaning up entries older than %d days...", days)))
				n, err := env.cache.CleanupOldEntries(ctx, days)
				if err != nil {
					return err
				}
				if n > 0 {
					fmt.Fprintln(out, th.ok.Render(fmt.Sprintf("✓ Removed %d old cache entries", n)))
				} else {
					fmt.Fprintln(out, th.muted.Render("No old entries to remove."))
				}

				stats, err := env.cache.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\nRemaining: %d entries, %s\n", stats.TotalEntries, formatSize(stats.TotalSizeBytes))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 30, "maximum entry age in days (default from config ttl_days)")
	return cmd
}

func newCacheLookupCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <query>",
		Short: "Look a query up in the cache without contacting a provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withCache(opts, func(env *cacheEnv) error {
				out := cmd.OutOrStdout()
				if !env.cfg.Cache.Enabled {
					fmt.Fprintln(out, "Cache is disabled in the configuration.")
					return nil
				}
				r, err := env.resolver()
				if err != nil {
					return err
				}
				res, err := r.Lookup(cmd.Context(), query)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(out, formatLookup(outputTheme(out), res))
				return err
			})
		},
	}
}

func newCacheStoreCmd(opts *globalOptions) *cobra.Command {
	var response, provider, model string

	cmd := &cobra.Command{
		Use:   "store <query>",
		Short: "Store a response for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if response == "" {
				return errors.New("--response is required")
			}
			return withCache(opts, func(env *cacheEnv) error {
				r, err := env.resolver()
				if err != nil {
					return err
				}
				if provider == "" {
					provider = string(env.cfg.Provider)
				}
				if model == "" {
					model = env.cfg.Model
				}
				key := r.Key(query)
				id, err := r.Remember(cmd.Context(), key, query, response, provider, model)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, outputTheme(out).ok.Render(fmt.Sprintf("✓ Stored entry %d with hash %s", id, key.Hash)))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&response, "response", "", "response text to cache")
	cmd.Flags().StringVar(&provider, "provider", "", "provider that produced the response (default from config)")
	cmd.Flags().StringVar(&model, "model", "", "model that produced the response (default from config)")
	return cmd
}

func newCacheNormalizeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <query>",
		Short: "Show the normalized form and cache key of a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			n, err := loadNormalizer(cfg)
			if err != nil {
				return err
			}
			normalized := n.Normalize(query)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "  Original:   %s\n", query)
			fmt.Fprintf(out, "  Normalized: %s\n", normalized)
			fmt.Fprintf(out, "  Hash:       %s\n", n.ComputeHash(normalized))
			return nil
		},
	}
}
