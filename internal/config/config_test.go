package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_PassesValidation(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, Validate(&cfg))
}

func TestValidate_RejectsBadAttentionThresholdOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Attention.AdmitLow = 0.9
	err := Validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admit_low < admit_high")
}

func TestValidate_RejectsBadAttentionLoadCutoffOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Attention.LoadDeferCutoff = 0.95
	err := Validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load_defer_cutoff < load_drop_cutoff")
}

func TestValidate_RejectsUnknownDefaultBand(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.DefaultBand = "PURPLE"
	err := Validate(&cfg)
	require.Error(t, err)
}

func TestLoad_AppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema_version: \"1\"\nnode_id: test-node\n"), 0o600))

	t.Setenv("FAMILY_CORE_DATA_DIR", "/tmp/hearthcore-test")
	t.Setenv("FAMILY_CORE_TEMPORAL_HALF_LIFE_H", "48")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/hearthcore-test", cfg.Storage.DataDir)
	assert.Equal(t, 48.0, cfg.Temporal.HalfLifeHours)
}

func TestLoad_InvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
