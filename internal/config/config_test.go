package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsThenEnv(t *testing.T) {
	t.Setenv("DATABASE_DSN", "file:test.db")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("YOKEFLOW_AUTO_CONTINUE_DELAY", "2s")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "file:test.db", cfg.DatabaseDSN)
	require.Equal(t, 2*time.Second, cfg.AutoContinueDelay)
	require.Equal(t, "claude-sonnet-4-5", cfg.CodingModel)
}

func TestLoadLayersYAMLUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte("coding_model: claude-opus-4\nmax_sessions_per_run: 3\n"), 0o644))

	t.Setenv("DATABASE_DSN", "file:test.db")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("YOKEFLOW_CODING_MODEL", "claude-haiku-4")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "claude-haiku-4", cfg.CodingModel, "env overrides yaml")
	require.Equal(t, 3, cfg.MaxSessionsPerRun, "yaml overrides built-in default")
}

func TestLoadRequiresDatabaseDSN(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRequiresAtLeastOneProviderCredential(t *testing.T) {
	t.Setenv("DATABASE_DSN", "file:test.db")
	_, err := Load("")
	require.Error(t, err)
}
