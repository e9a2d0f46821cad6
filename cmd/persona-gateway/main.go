// ABOUTME: Entry point for the persona-gateway server and its admin commands
// ABOUTME: Builds the cobra command tree and runs it under a signal-aware context

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/persona-gateway/internal/config"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                                  _
  _ __   ___ _ __ ___  ___  _ __   __ _        __ _  __ _| |_ _____      ____ _ _   _
 | '_ \ / _ \ '__/ __|/ _ \| '_ \ / _' |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | |_) |  __/ |  \__ \ (_) | | | | (_| |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 | .__/ \___|_|  |___/\___/|_| |_|\__,_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
 |_|                                          |___/                             |___/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "persona-gateway",
		Short:         "Persona-scoped conversational gateway",
		Long:          "persona-gateway serves a chat API whose conversations are scoped to a user and a customer or advisor persona, with rate limiting, request deduplication, and SSE streaming.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "path to the gateway config file")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newInitCmd(opts),
		newHealthCmd(opts),
		newPersonaCmd(opts),
		newTokenCmd(opts),
	)

	return rootCmd
}

// loadConfig reads the config named by --config.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
