package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "apsync.db", cfg.Database)
	assert.Equal(t, "Okami HD", cfg.Game)
	assert.Equal(t, 200*time.Millisecond, cfg.PollConnecting)
	assert.Equal(t, time.Second, cfg.PollConnected)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.True(t, cfg.AutoReconnect)
	assert.Empty(t, cfg.Server)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APSYNC_SERVER":            "archipelago.gg:38281",
		"APSYNC_SLOT":              "Ammy",
		"APSYNC_HANDSHAKE_TIMEOUT": "3s",
		"APSYNC_AUTO_RECONNECT":    "false",
		"APSYNC_TAGS":              "AP,DeathLink",
		"SERVER":                   "ignored-without-prefix:1",
	})
	require.NoError(t, err)

	assert.Equal(t, "archipelago.gg:38281", cfg.Server)
	assert.Equal(t, "Ammy", cfg.Slot)
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout)
	assert.False(t, cfg.AutoReconnect)
	assert.Equal(t, []string{"AP", "DeathLink"}, cfg.Tags)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFrom_BadValue(t *testing.T) {
	_, err := LoadFrom(map[string]string{"APSYNC_TICK": "soon"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"APSYNC_LOG_LEVEL": "loud", "APSYNC_SCOUT_TIMEOUT": "0s"})
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server is required")
	assert.Contains(t, err.Error(), "slot is required")
	assert.Contains(t, err.Error(), "scout timeout")
	assert.Contains(t, err.Error(), "log level")
}

func TestLevel(t *testing.T) {
	level, err := Config{LogLevel: "debug"}.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}
