package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepilot/forgepilot/internal/config"
	"github.com/forgepilot/forgepilot/internal/model"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 50, cfg.LogMaxSizeMB)
	assert.Equal(t, 10, cfg.LogMaxFiles)
	assert.Equal(t, 30, cfg.LogRetentionDays)
	assert.Equal(t, 5, cfg.ReplanMax) // matches stagemachine.MaxReplans by convention, not by import
	assert.Equal(t, 5*time.Minute, cfg.RetryMinIdle)
	assert.Equal(t, 30*time.Second, cfg.RetryCooldown)
	assert.Equal(t, 2*time.Minute, cfg.PostProcessTimeout)
	assert.Equal(t, 10*time.Minute, cfg.StageTimeouts[model.StageDiscovery])
	assert.Equal(t, 20*time.Minute, cfg.StageTimeouts[model.StageImplementation])
}

func TestLoadOverlaysEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SESSIONS_ROOT", "/tmp/sessions")
	t.Setenv("AGENT_CMD", "/usr/local/bin/my-agent")
	t.Setenv("RETRY_COOLDOWN_MS", "1000")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/tmp/sessions", cfg.SessionsRoot)
	assert.Equal(t, "/usr/local/bin/my-agent", cfg.AgentCmd)
	assert.Equal(t, time.Second, cfg.RetryCooldown)
}

func TestLoadRejectsMalformedIntegers(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	_, err := config.Load("")
	assert.Error(t, err)
}

func TestLoadToleratesMissingEnvFile(t *testing.T) {
	_, err := config.Load(os.TempDir() + "/this-does-not-exist.env")
	require.NoError(t, err)
}
