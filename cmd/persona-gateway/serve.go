// ABOUTME: serve command that starts the gateway HTTP server
// ABOUTME: Prints the startup banner and blocks until SIGINT or SIGTERM

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/persona-gateway/internal/config"
	"github.com/2389/persona-gateway/internal/gateway"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			cyan.Fprint(out, banner)
			gray.Fprintf(out, "    version: %s\n\n", version)

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.Logging, out)

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)
			line := func(label, value string) {
				green.Fprint(out, "    ▶ ")
				fmt.Fprintf(out, "%-11s%s\n", label+":", value)
			}

			line("Config", opts.configPath)
			line("HTTP", cfg.Server.HTTPAddr)
			line("Database", cfg.Database.Path)
			if cfg.Sessions.Backend == config.SessionsRedis {
				line("Sessions", "redis "+cfg.Sessions.RedisAddr)
			} else {
				line("Sessions", "sqlite")
			}
			line("Generation", cfg.Generation.Backend)
			line("Rate limit", fmt.Sprintf("%d per %s", cfg.RateLimit.Capacity, cfg.RateLimit.Window))
			if cfg.Server.IsDevelopment() {
				yellow.Fprintln(out, "    ! development mode: error detail is sent to clients")
			}
			fmt.Fprintln(out)

			logger.Info("starting persona-gateway",
				"config", opts.configPath,
				"http_addr", cfg.Server.HTTPAddr,
				"environment", cfg.Server.Environment,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}

			return gw.Run(cmd.Context())
		},
	}
}
