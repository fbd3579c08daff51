package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/config.yml"

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Shielded balance reconciler",
		Long: "Reconciles shielded-wallet balance and scan callbacks from the wallet engine into a\n" +
			"queryable per-bucket balance cache, and manages the engine connection lifecycle.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", getEnv("CONFIG_PATH", defaultConfigPath), "path to the YAML config")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	return cmd
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
