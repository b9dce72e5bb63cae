package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyx-sec/cyx/pkg/mcp"
)

func newMCPCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the query cache to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(opts, func(env *cacheEnv) error {
				var resolver mcp.Resolver
				if env.cfg.Cache.Enabled {
					r, err := env.resolver()
					if err != nil {
						return err
					}
					resolver = r
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				env.log.Info("mcp server starting", zap.String("cache", env.cache.Path()))
				srv := mcp.New(env.cache, resolver, version, mcp.WithLogger(env.log.Named("mcp")))
				if err := srv.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
}
