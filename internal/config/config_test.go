// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML files, env var expansion, overrides and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-presence/internal/presence"
)

// clearEnv unsets every variable the loader reads so the host
// environment cannot leak into a test. t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TOKEN", "PORT", "MATRIX_HOMESERVER", "MATRIX_USER_ID", "COVEN_PRESENCE_DB", "LOG_LEVEL", EnvConfigPath} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validYAML = `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@presence:example.org"
  access_token: "syt_file_token"

presence:
  interval: "15s"
  messages:
    - "Deploying"
    - "Reviewing"
    - "Sleeping"
  modes: ["online", "dnd"]

liveness:
  interval: "1m"

reconnect:
  max_attempts: 3
  delay: "2s"
  login_timeout: "10s"

server:
  port: 8081

database:
  path: "./data/presence.db"

logging:
  level: "debug"
  format: "json"
`

func TestLoad_ValidYAML(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "@presence:example.org", cfg.Matrix.UserID)
	assert.Equal(t, "syt_file_token", cfg.Matrix.AccessToken)
	assert.Equal(t, []string{"Deploying", "Reviewing", "Sleeping"}, cfg.Presence.Messages)
	assert.Equal(t, []presence.Mode{presence.ModeOnline, presence.ModeDoNotDisturb}, cfg.PresenceModes())
	assert.Equal(t, 15*time.Second, cfg.Presence.Interval)
	assert.Equal(t, time.Minute, cfg.Liveness.Interval)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.Delay)
	assert.Equal(t, 10*time.Second, cfg.Reconnect.LoginTimeout)
	assert.Equal(t, ":8081", cfg.Addr())
	assert.Equal(t, "./data/presence.db", cfg.Database.Path)
	assert.Equal(t, 168*time.Hour, cfg.Database.Retention, "default retention kept")
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	content := `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@presence:example.org"
access_token = "syt_toml"

[presence]
interval = "20s"
messages = ["One"]
modes = ["invisible"]
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	require.NoError(t, err)

	assert.Equal(t, "syt_toml", cfg.Matrix.AccessToken)
	assert.Equal(t, []string{"One"}, cfg.Presence.Messages)
	assert.Equal(t, []presence.Mode{presence.ModeInvisible}, cfg.PresenceModes())
	assert.Equal(t, 20*time.Second, cfg.Presence.Interval)
	assert.Equal(t, 30*time.Second, cfg.Liveness.Interval, "default heartbeat kept")
}

func TestLoad_DefaultsMatchBuiltInRotation(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN", "syt_env")
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "@presence:example.org")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"🎧 Listening to ArctixMC", "🎮 Playing ArctixMC"}, cfg.Presence.Messages)
	assert.Equal(t, []presence.Mode{presence.ModeDoNotDisturb, presence.ModeIdle}, cfg.PresenceModes())
	assert.Equal(t, 10*time.Second, cfg.Presence.Interval)
	assert.Equal(t, 30*time.Second, cfg.Liveness.Interval)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Reconnect.Delay)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Empty(t, cfg.Database.Path, "persistence is opt-in")
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRESENCE_TEST_TOKEN", "syt_expanded")

	content := strings.Replace(validYAML, `"syt_file_token"`, `"${PRESENCE_TEST_TOKEN}"`, 1)
	cfg, err := Load(writeConfig(t, "config.yaml", content))
	require.NoError(t, err)
	assert.Equal(t, "syt_expanded", cfg.Matrix.AccessToken)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN", "syt_from_env")
	t.Setenv("PORT", "4000")
	t.Setenv("LOG_LEVEL", "WARN")

	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	require.NoError(t, err)
	assert.Equal(t, "syt_from_env", cfg.Matrix.AccessToken)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-port")

	_, err := Load(writeConfig(t, "config.yaml", validYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading environment")
}

func TestLoad_MissingToken(t *testing.T) {
	clearEnv(t)
	content := strings.Replace(validYAML, `access_token: "syt_file_token"`, "", 1)

	_, err := Load(writeConfig(t, "config.yaml", content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matrix.accesstoken")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr string
	}{
		{"empty messages", `    - "Deploying"
    - "Reviewing"
    - "Sleeping"`, "    []", "presence.messages"},
		{"blank message", `"Reviewing"`, `""`, "presence.messages"},
		{"unknown mode", `["online", "dnd"]`, `["online", "streaming"]`, "unknown presence mode"},
		{"bad user id", `"@presence:example.org"`, `"presence"`, "matrix.userid"},
		{"bad homeserver", `"https://matrix.example.org"`, `"not a url"`, "matrix.homeserver"},
		{"bad duration", `interval: "15s"`, `interval: "soon"`, "presence.interval"},
		{"zero attempts", "max_attempts: 3", "max_attempts: 0", "reconnect.maxattempts"},
		{"port range", "port: 8081", "port: 70000", "server.port"},
		{"log format", `format: "json"`, `format: "xml"`, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			content := strings.Replace(validYAML, tt.from, tt.to, 1)
			require.NotEqual(t, validYAML, content, "replacement did not apply")

			_, err := Load(writeConfig(t, "config.yaml", content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_TailscaleNeedsHostname(t *testing.T) {
	clearEnv(t)
	content := validYAML + `
tailscale:
  enabled: true
  hostname: ""
`
	_, err := Load(writeConfig(t, "config.yaml", content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tailscale.hostname")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestResolve(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, "/etc/presence.yaml", Resolve("/etc/presence.yaml"))

	t.Setenv(EnvConfigPath, "/from/env.toml")
	assert.Equal(t, "/from/env.toml", Resolve(""))
}

func TestResolve_WorkingDirectory(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	assert.Equal(t, "", Resolve(""))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(""), 0644))
	assert.Equal(t, "config.toml", Resolve(""))
}
