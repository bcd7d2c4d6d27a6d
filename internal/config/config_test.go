package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnvOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/relay")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PORT", "9100")
	t.Setenv("ENABLE_GEMINI3_OPEN_ACCESS", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "9100", cfg.Server.Port)
	require.Equal(t, "https://cloudcode-pa.googleapis.com", cfg.Upstream.CloudCodeBase)
	require.Equal(t, int64(1000), cfg.Quota.IncrementPerCredential)
	require.True(t, cfg.Feature().EnableGemini3OpenAccess)
	require.True(t, cfg.Feature().CLISharedMode)
}

func TestLoadMissingStoresFails(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadYAMLFileWithFeatures(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/relay")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: "7001"
features:
  force_discord_bind: true
  claude_limit: 500
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "7001", cfg.Server.Port)
	require.True(t, cfg.Feature().ForceDiscordBind)
	require.Equal(t, int64(500), cfg.Feature().ClaudeLimit)
}

func TestReloadFeatures(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/relay")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("features:\n  use_token_quota: false\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Feature().UseTokenQuota)

	require.NoError(t, os.WriteFile(path, []byte("features:\n  use_token_quota: true\n"), 0o644))
	cfg.reloadFeatures(path)
	require.True(t, cfg.Feature().UseTokenQuota)
}
