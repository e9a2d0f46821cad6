// ABOUTME: Tests for the persona-gateway command tree
// ABOUTME: Runs commands in-process against temp config files and httptest servers

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/persona-gateway/internal/auth"
	"github.com/2389/persona-gateway/internal/config"
)

func executeCLI(t *testing.T, configPath, stdin string, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", configPath}, args...))

	err := root.Execute()
	return stdout.String(), err
}

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := fmt.Sprintf("database:\n  path: %q\n%s", filepath.Join(dir, "gateway.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestInitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	path := filepath.Join(dir, "conf", "gateway.yaml")

	out, err := executeCLI(t, path, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Config written to "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, config.EnvProduction, cfg.Server.Environment)
	assert.Equal(t, filepath.Join(dir, "data", "persona-gateway", "gateway.db"), cfg.Database.Path)
	assert.Equal(t, config.SessionsSQLite, cfg.Sessions.Backend)
	assert.Equal(t, config.GenerationEcho, cfg.Generation.Backend)
	assert.NotEmpty(t, cfg.Auth.JWTSecret)

	info, err := os.Stat(filepath.Join(dir, "data", "persona-gateway"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInitUsesAnswers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	dbPath := filepath.Join(dir, "db", "chat.db")

	answers := strings.Join([]string{
		":9090",       // HTTP address
		"development", // environment
		dbPath,        // database
		"redis",       // session backend
		"cache:6379",  // redis address
		"remote",      // generation backend
		"http://gen.internal/generate",
		"debug",
		"json",
	}, "\n") + "\n"

	_, err := executeCLI(t, path, answers, "init")
	require.NoError(t, err)

	t.Setenv("REDIS_PASSWORD", "hunter2")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.True(t, cfg.Server.IsDevelopment())
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, config.SessionsRedis, cfg.Sessions.Backend)
	assert.Equal(t, "cache:6379", cfg.Sessions.RedisAddr)
	assert.Equal(t, "hunter2", cfg.Sessions.RedisPassword)
	assert.Equal(t, config.GenerationRemote, cfg.Generation.Backend)
	assert.Equal(t, "http://gen.internal/generate", cfg.Generation.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestInitAbortsOnExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0600))

	out, err := executeCLI(t, path, "n\n", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestPersonaAddAndList(t *testing.T) {
	path := writeConfig(t, "")

	_, err := executeCLI(t, path, "", "persona", "add", "customer", "cust-1", "--name", "Alice")
	require.NoError(t, err)
	_, err = executeCLI(t, path, "", "persona", "add", "advisor", "adv-1", "--name", "Bob")
	require.NoError(t, err)

	// re-adding renames
	out, err := executeCLI(t, path, "", "persona", "add", "CUSTOMER", "cust-1", "--name", "Alicia")
	require.NoError(t, err)
	assert.Contains(t, out, "customer persona cust-1 saved")

	out, err = executeCLI(t, path, "", "persona", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "cust-1")
	assert.Contains(t, out, "Alicia")
	assert.NotContains(t, out, "Alice ")
	assert.Contains(t, out, "adv-1")

	out, err = executeCLI(t, path, "", "persona", "list", "advisor")
	require.NoError(t, err)
	assert.Contains(t, out, "adv-1")
	assert.NotContains(t, out, "cust-1")
}

func TestPersonaAddRejectsUnknownKind(t *testing.T) {
	path := writeConfig(t, "")

	_, err := executeCLI(t, path, "", "persona", "add", "partner", "p-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown persona kind")
}

func TestTokenVerifiesWithConfiguredSecret(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: \"test-secret\"\n")

	out, err := executeCLI(t, path, "", "token", "--user", "user-42", "--ttl", "1h")
	require.NoError(t, err)

	userID, err := auth.NewJWTVerifier([]byte("test-secret")).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestTokenRequiresSecret(t *testing.T) {
	path := writeConfig(t, "")

	_, err := executeCLI(t, path, "", "token", "--user", "user-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret not configured")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte("OK"))
		case "/health/ready":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	path := writeConfig(t, fmt.Sprintf("server:\n  http_addr: %q\n", strings.TrimPrefix(srv.URL, "http://")))

	out, err := executeCLI(t, path, "", "health")
	require.NoError(t, err)
	assert.Equal(t, "healthy\n", out)

	_, err = executeCLI(t, path, "", "health", "--ready")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestDialAddr(t *testing.T) {
	assert.Equal(t, "localhost:8080", dialAddr(":8080"))
	assert.Equal(t, "10.0.0.1:8080", dialAddr("10.0.0.1:8080"))
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("chat served", "status", 200)
	logger.Warn("slow")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INF chat served component=gateway req.status=200")
	assert.Contains(t, lines[1], "WRN slow")
}

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Error("boom", "code", "internal_error")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["msg"])
	assert.Equal(t, slog.LevelError.String(), entry["level"])
	assert.Equal(t, "internal_error", entry["code"])
}

func TestVersionFlag(t *testing.T) {
	out, err := executeCLI(t, filepath.Join(t.TempDir(), "gateway.yaml"), "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "persona-gateway version "+version)
}
