package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultsAreComplete(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10*time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Minute, cfg.DeepCheckInterval())
	assert.NotEmpty(t, cfg.Agent.Observer.Model)
	assert.NotEmpty(t, cfg.Agent.Actor.Model)
	assert.Less(t, len(cfg.Agent.Observer.AllowedTools), len(cfg.Agent.Actor.AllowedTools),
		"observer tool set should be a strict subset of the actor's")
	assert.NotEmpty(t, cfg.Rules)
	assert.NoError(t, cfg.validate(), "defaults must validate")
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
poll_interval: 5
trigger_token: "@steward"
agent:
  observer:
    timeout: 30
transport:
  type: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.PollIntervalSec)
	assert.Equal(t, "@steward", cfg.TriggerToken)
	assert.Equal(t, 30, cfg.Agent.Observer.TimeoutSec)

	// Untouched defaults survive.
	assert.Equal(t, 120, cfg.Agent.Actor.TimeoutSec)
	assert.Equal(t, "state", cfg.StateDir)
}

func TestRulesMergeOntoDefaults(t *testing.T) {
	path := writeConfig(t, `
rules:
  cpu_percent:
    absolute_threshold: 70
  gpu_temp:
    delta_threshold: 0
  custom_metric:
    delta_threshold: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden metric takes the new threshold; its other fields keep the
	// default values rather than dropping to zero.
	cpu := cfg.Rules["cpu_percent"]
	assert.Equal(t, 70.0, cpu.AbsoluteThreshold)
	assert.Equal(t, 25.0, cpu.DeltaThreshold, "default delta_threshold must survive a partial override")
	assert.Equal(t, 300, cpu.CooldownSeconds, "cooldown should inherit the default")

	// An explicit zero disables that condition; it is not treated as unset.
	gpu := cfg.Rules["gpu_temp"]
	assert.Equal(t, 0.0, gpu.DeltaThreshold)
	assert.Equal(t, 80.0, gpu.AbsoluteThreshold, "unset fields keep their defaults")

	// New metric gets the fallback cooldown.
	custom := cfg.Rules["custom_metric"]
	assert.Equal(t, 3.0, custom.DeltaThreshold)
	assert.Equal(t, 300, custom.CooldownSeconds)

	// Untouched defaults are still there.
	assert.Contains(t, cfg.Rules, "streaming", "rule overlay must not wipe untouched defaults")
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative poll interval", "poll_interval: -1"},
		{"unknown backend", "agent:\n  backend: carrier-pigeon"},
		{"unknown transport", "transport:\n  type: smoke-signals"},
		{"malformed yaml", "rules: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err, "missing config file must be fatal")
}

func TestBotTokenEnvFallback(t *testing.T) {
	t.Setenv("STEWARD_BOT_TOKEN", "from-env")

	cfg, err := Load(writeConfig(t, "transport:\n  type: telegram"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Transport.BotToken)
}

func TestStatePaths(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/var/lib/steward"

	assert.Equal(t, "/var/lib/steward/ops-log.md", cfg.OpsLogPath())
	assert.Equal(t, "/var/lib/steward/.running", cfg.RunMarkerPath())
	assert.Equal(t, "/var/lib/steward/steward.db", cfg.StorePath())
	assert.Equal(t, "/var/lib/steward/steward.log", cfg.LogPath())
}
