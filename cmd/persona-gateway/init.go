// ABOUTME: init command that writes a starter gateway config
// ABOUTME: Prompts for each setting with a default and generates a random JWT secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// dataPath returns the gateway data directory.
// Priority: XDG_DATA_HOME/persona-gateway > ~/.local/share/persona-gateway
func dataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "persona-gateway")
}

// initAnswers holds what the operator chose during init.
type initAnswers struct {
	HTTPAddr    string
	Environment string
	DBPath      string
	Sessions    string
	RedisAddr   string
	Generation  string
	RemoteURL   string
	JWTSecret   string
	LogLevel    string
	LogFormat   string
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			reader := bufio.NewReader(cmd.InOrStdin())

			fmt.Fprintln(out, "persona-gateway configuration setup")
			fmt.Fprintln(out, "===================================")
			fmt.Fprintln(out)

			outputFile := opts.configPath
			if _, err := os.Stat(outputFile); err == nil && !force {
				overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
				if !isYes(overwrite) {
					fmt.Fprintln(out, "Aborted.")
					return nil
				}
			}

			secret, err := generateSecret()
			if err != nil {
				return err
			}

			a := initAnswers{JWTSecret: secret}

			fmt.Fprintln(out, "\n--- Server ---")
			a.HTTPAddr = prompt(reader, out, "HTTP address", "localhost:8080")
			a.Environment = prompt(reader, out, "Environment (development/production)", "production")

			fmt.Fprintln(out, "\n--- Storage ---")
			a.DBPath = prompt(reader, out, "SQLite database path", filepath.Join(dataPath(), "gateway.db"))
			a.Sessions = prompt(reader, out, "Session backend (sqlite/redis)", "sqlite")
			if a.Sessions == "redis" {
				a.RedisAddr = prompt(reader, out, "Redis address", "localhost:6379")
			}

			fmt.Fprintln(out, "\n--- Generation ---")
			a.Generation = prompt(reader, out, "Generation backend (echo/remote)", "echo")
			if a.Generation == "remote" {
				a.RemoteURL = prompt(reader, out, "Remote generation URL", "http://localhost:9000/generate")
			}

			fmt.Fprintln(out, "\n--- Logging ---")
			a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
			a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

			if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}

			dataDir := filepath.Dir(a.DBPath)
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}

			green := color.New(color.FgGreen)
			fmt.Fprintln(out)
			green.Fprintf(out, "  ✓ Config written to %s\n", outputFile)
			green.Fprintf(out, "  ✓ Data directory: %s\n", dataDir)
			fmt.Fprintln(out, "\nTo start the server:")
			fmt.Fprintln(out, "  persona-gateway serve")

			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config without asking")

	return cmd
}

func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# persona-gateway configuration\n")
	b.WriteString("# Generated by persona-gateway init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", a.HTTPAddr)
	fmt.Fprintf(&b, "  environment: %q\n", a.Environment)
	b.WriteString("  shutdown_timeout: \"5s\"\n\n")

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n\n", a.DBPath)

	b.WriteString("sessions:\n")
	fmt.Fprintf(&b, "  backend: %q\n", a.Sessions)
	if a.RedisAddr != "" {
		fmt.Fprintf(&b, "  redis_addr: %q\n", a.RedisAddr)
		b.WriteString("  redis_password: \"${REDIS_PASSWORD}\"\n")
		b.WriteString("  redis_ttl: \"24h\"\n")
	}
	b.WriteString("\n")

	b.WriteString("rate_limit:\n")
	b.WriteString("  window: \"1m\"\n")
	b.WriteString("  capacity: 30\n\n")

	b.WriteString("dedupe:\n")
	b.WriteString("  ttl: \"30s\"\n\n")

	b.WriteString("generation:\n")
	fmt.Fprintf(&b, "  backend: %q\n", a.Generation)
	if a.RemoteURL != "" {
		fmt.Fprintf(&b, "  url: %q\n", a.RemoteURL)
	}
	b.WriteString("  timeout: \"30s\"\n")
	b.WriteString("  history_limit: 20\n\n")

	b.WriteString("limits:\n")
	b.WriteString("  max_message_length: 5000\n\n")

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  jwt_secret: %q\n\n", a.JWTSecret)

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", a.LogFormat)

	return b.String()
}

func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// EOF with nothing typed
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}
