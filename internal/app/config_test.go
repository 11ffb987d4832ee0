package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)

	require.Equal(t, 10, cfg.Collab.MaxParticipants)
	require.Equal(t, time.Second, cfg.Collab.CursorRateWindow)
	require.Equal(t, 30, cfg.Collab.CursorRateLimit)
	require.Equal(t, time.Second, cfg.Collab.CommandRateWindow)
	require.Equal(t, 10, cfg.Collab.CommandRateLimit)
	require.Equal(t, 60*time.Second, cfg.Collab.ReaperInterval)
	require.Equal(t, 5*time.Minute, cfg.Collab.InactivityThreshold)

	require.False(t, cfg.Relay.Playwright.Enabled)
	require.True(t, cfg.Relay.Playwright.Headless)
	require.Equal(t, 30*time.Second, cfg.Relay.Playwright.Timeout)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	contents := `
server:
  port: 9000
  log_level: debug
collab:
  max_participants: 4
  inactivity_threshold: 2m
relay:
  playwright:
    enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 4, cfg.Collab.MaxParticipants)
	require.Equal(t, 2*time.Minute, cfg.Collab.InactivityThreshold)
	require.True(t, cfg.Relay.Playwright.Enabled)

	// Unlisted keys fall back to defaults.
	require.Equal(t, 30, cfg.Collab.CursorRateLimit)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("COVIEW_SERVER_PORT", "9090")
	t.Setenv("COVIEW_COLLAB_MAX_PARTICIPANTS", "6")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 6, cfg.Collab.MaxParticipants)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: ["), 0o600))

	_, err := LoadConfig(dir)
	require.Error(t, err)
}
