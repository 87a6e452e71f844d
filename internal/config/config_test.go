package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"contentpipe/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "pipeline.db", cfg.DatabasePath)
	require.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoadParsesEndpoints(t *testing.T) {
	path := writeConfig(t, `
database_path: /var/lib/pipeline/db.sqlite
endpoints:
  - stage: triage
    provider: hosted
    base_url: https://api.example.com
    model: moderation-large
    auth_env_key: TRIAGE_API_KEY
    concurrency_cap: 4
    timeout_seconds: 30
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/pipeline/db.sqlite", cfg.DatabasePath)

	bindings := cfg.Bindings()
	require.Len(t, bindings, 1)
	require.Equal(t, model.StageTriage, bindings[0].Stage)
	require.Equal(t, model.ProviderHosted, bindings[0].Provider)
	require.Equal(t, 4, bindings[0].ConcurrencyCap)
}

func TestLoadRejectsUnrecognizedProvider(t *testing.T) {
	path := writeConfig(t, `
endpoints:
  - stage: triage
    provider: made_up
    base_url: https://api.example.com
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateStage(t *testing.T) {
	path := writeConfig(t, `
endpoints:
  - stage: triage
    provider: hosted
    base_url: https://api.example.com
  - stage: triage
    provider: custom
    base_url: https://internal.example.com
`)
	_, err := Load(path)
	require.Error(t, err)
}
