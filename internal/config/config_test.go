package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "pipeline:\n  max_clarification_rounds: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./data/nutrilens.db", cfg.Database.DSN())
	assert.Equal(t, 2, cfg.Pipeline.MaxClarificationRounds)
	assert.Equal(t, 4, cfg.Pipeline.MaxQuestions)
	assert.Equal(t, "interactive", cfg.Pipeline.PortionMode)
	assert.True(t, cfg.Pipeline.ConcurrentAdvice)
	assert.Equal(t, 3, cfg.Inference.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Inference.Timeout)
	assert.InDelta(t, 0.5, cfg.Nutrition.UnresolvedDowngradeRatio, 1e-9)
	assert.False(t, cfg.Storage.Enabled())
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.ClaimTTL)
	assert.Greater(t, cfg.Pipeline.ClaimTTL, cfg.Inference.WorstCaseCall())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PIPELINE_PORTION_MODE", "autonomous")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/nutri")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "autonomous", cfg.Pipeline.PortionMode)
	assert.Equal(t, "postgres://u:p@localhost:5432/nutri", cfg.Database.DSN())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown portion mode", body: "pipeline:\n  portion_mode: guess\n"},
		{name: "postgres without url", body: "database:\n  driver: postgres\n"},
		{name: "unknown provider", body: "inference:\n  provider: carrier-pigeon\n"},
		{name: "claim shorter than a stage", body: "pipeline:\n  claim_ttl: 90s\n"},
		{name: "ratio out of range", body: "nutrition:\n  unresolved_downgrade_ratio: 1.5\n"},
		{name: "semantic match without key", body: "nutrition:\n  semantic_match: true\nembedding:\n  api_key_env: NUTRILENS_TEST_UNSET_KEY\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
