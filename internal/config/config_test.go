package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "impact.db", cfg.DBPath)
	assert.Equal(t, "espboxing", cfg.Namespace)
	assert.Empty(t, cfg.BrokerURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("IMPACT_ADDR", ":9000")
	t.Setenv("IMPACT_DB_PATH", "/tmp/impact-test.db")
	t.Setenv("IMPACT_BROKER_URL", "tcp://localhost:1883")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "/tmp/impact-test.db", cfg.DBPath)
	assert.Equal(t, "tcp://localhost:1883", cfg.BrokerURL)
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "impact.yaml")
	data := "addr: \":7000\"\nnamespace: gym\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	t.Setenv("IMPACT_CONFIG", path)
	t.Setenv("IMPACT_ADDR", ":7001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gym", cfg.Namespace, "file value should apply")
	assert.Equal(t, ":7001", cfg.Addr, "env should override file")
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Setenv("IMPACT_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsEmptyAddr(t *testing.T) {
	// Setenv with an empty value still sets the variable, which the env
	// provider picks up.
	t.Setenv("IMPACT_ADDR", "")
	_, err := Load()
	assert.Error(t, err)
}
