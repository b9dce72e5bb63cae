package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "cyx",
		Short:         "cyx — security tooling assistant with a local semantic query cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default "+defaultConfigHint()+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default $CYX_LOG_LEVEL or warn)")

	root.AddCommand(
		newCacheCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
