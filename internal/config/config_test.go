package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrentContacts)
	assert.InDelta(t, 0.75, cfg.Resolver.NameMatchThreshold, 0.001)
	assert.InDelta(t, 0.5, cfg.Resolver.NameCorroborateThreshold, 0.001)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())

	data := `
store:
  driver: sqlite
  database_url: contacts.db
resolver:
  name_match_threshold: 0.8
merge:
  authoritative_sources:
    close: [phone, title]
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(data), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.InDelta(t, 0.8, cfg.Resolver.NameMatchThreshold, 0.001)
	assert.Equal(t, []string{"phone", "title"}, cfg.Merge.AuthoritativeSources["close"])
	// Unset keys keep their defaults.
	assert.Equal(t, 5, cfg.Batch.MaxConcurrentContacts)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONTACT_STORE_DRIVER", "sqlite")
	t.Setenv("CONTACT_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	require.Error(t, InitLogger(LogConfig{Level: "nonsense"}))
}
