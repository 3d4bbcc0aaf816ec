// Package cmd implements the gateway command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/gateway/internal/config"
)

const appName = "gateway"

func Execute() error {
	return newRootCmd().Execute()
}

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Multi-session messaging gateway",
		Long:          "gateway runs many independent messaging account sessions behind one HTTP API and streams their lifecycle events to websocket observers.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml); environment variables override it")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newWatchCmd(),
	)

	return rootCmd
}

// loadConfig reads the configuration from the environment and, when given,
// a config file.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configFile == "" {
		return config.Load(), nil
	}
	return config.LoadFile(o.configFile)
}
