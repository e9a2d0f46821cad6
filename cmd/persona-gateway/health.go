// ABOUTME: health command that probes a running gateway
// ABOUTME: Hits /health, or /health/ready with --ready

package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var ready bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			path := "/health"
			if ready {
				path = "/health/ready"
			}

			url := "http://" + dialAddr(cfg.Server.HTTPAddr) + path
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}

			if ready {
				fmt.Fprintln(cmd.OutOrStdout(), "ready")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "check store and session backend readiness")

	return cmd
}

// dialAddr turns a listen address like ":8080" into one a client can dial.
func dialAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
