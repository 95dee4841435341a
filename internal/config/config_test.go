package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corectl/supervisor/internal/health"
	"github.com/corectl/supervisor/internal/pool"
	"github.com/corectl/supervisor/internal/restart"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadDefaults()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "auto", cfg.PlatformAdapter)
	assert.Equal(t, "memory://", cfg.Registry.StoreDSN)
	assert.Equal(t, 2, cfg.HealthMonitoring.HealthyThreshold)
	assert.Equal(t, 2, cfg.HealthMonitoring.UnhealthyThreshold)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "supervisor.toml", `
refresh_interval = "500ms"
enable_process_tree = true
monitor_system_metrics = true
buffer_size = 50
enable_auto_restart = true
platform_adapter = "mock"
enable_pooling = true

[registry]
store_dsn = "sqlite://:memory:"
process_retention_days = 3
event_retention_days = 14

[health_monitoring]
global_interval = "2s"
healthy_threshold = 3
unhealthy_threshold = 2

[auto_restart]
enabled = true
policy = "on_failure"
strategy = "exponential"
max_restarts = 3
time_window = "60s"
initial_delay = "1s"
max_delay = "10s"
backoff_multiplier = 2.0
restart_on_process_exit = true

[[pools]]
name = "batch"
min_workers = 1
max_workers = 4
max_queue_size = 10
scaling_strategy = "dynamic"
load_balancing = "least_busy"

[server]
listen = "127.0.0.1:8080"
base_path = "/api"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.RefreshInterval)
	assert.True(t, cfg.EnableProcessTree)
	assert.Equal(t, 50, cfg.BufferSize)
	assert.Equal(t, "mock", cfg.PlatformAdapter)
	assert.Equal(t, "sqlite://:memory:", cfg.Registry.StoreDSN)
	assert.Equal(t, 3, cfg.Registry.ProcessRetentionDays)
	assert.Equal(t, 3, cfg.HealthMonitoring.HealthyThreshold)

	rc := cfg.AutoRestart.ToEngineConfig()
	assert.Equal(t, restart.PolicyOnFailure, rc.Policy)
	assert.Equal(t, restart.StrategyExponential, rc.Strategy)
	assert.Equal(t, time.Second, rc.InitialDelay)
	assert.Equal(t, 2.0, rc.BackoffMultiplier)

	require.Len(t, cfg.Pools, 1)
	pc := cfg.Pools[0].ToPool()
	assert.Equal(t, "batch", pc.Name)
	assert.Equal(t, pool.ScalingDynamic, pc.ScalingStrategy)
	assert.Equal(t, pool.LeastBusy, pc.LoadBalancing)

	require.NotNil(t, cfg.Server)
	assert.Equal(t, "/api", cfg.Server.BasePath)
}

func TestRefreshIntervalBounds(t *testing.T) {
	path := writeConfig(t, "bad.toml", `refresh_interval = "50ms"`)
	_, err := LoadConfig(path)
	assert.Error(t, err, "below 100ms must be rejected")

	path = writeConfig(t, "bad2.toml", `refresh_interval = "11s"`)
	_, err = LoadConfig(path)
	assert.Error(t, err, "above 10s must be rejected")
}

func TestUnknownPlatformAdapterRejected(t *testing.T) {
	path := writeConfig(t, "bad.toml", `platform_adapter = "solaris"`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestInvalidPoolRejected(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[[pools]]
name = "broken"
min_workers = 5
max_workers = 2
max_queue_size = 10
`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestHealthCheckEntryDecoding(t *testing.T) {
	entry := HealthCheckEntry{
		Type: "cpuUsage",
		Spec: map[string]any{
			"interval":        "5s",
			"timeout":         "1s",
			"max_cpu_percent": 50.0,
			"sustained_for":   "3s",
		},
	}
	c, err := entry.ToCheck()
	require.NoError(t, err)
	assert.Equal(t, health.TypeCPUUsage, c.Type)
	assert.True(t, c.Enabled)
	assert.Equal(t, 50.0, c.MaxCPUPercent)
	assert.Equal(t, 3*time.Second, c.SustainedFor)

	entry = HealthCheckEntry{Type: "httpEndpoint", Spec: map[string]any{"url": "not a url"}}
	_, err = entry.ToCheck()
	assert.Error(t, err)
}

func TestSupervisedValidation(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[[supervised]]
name_match = ""
`)
	_, err := LoadConfig(path)
	assert.Error(t, err, "empty name_match must be rejected")
}

func TestEnvComposition(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "extra.env")
	require.NoError(t, os.WriteFile(envFile, []byte("FROM_FILE=1\nQUOTED=\"two words\"\n# comment\n"), 0o600))

	path := writeConfig(t, "env.toml", `
env_files = ["`+envFile+`"]
env = ["EXPLICIT=3", "FROM_FILE=override"]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.GlobalEnv, "EXPLICIT=3")
	assert.Contains(t, cfg.GlobalEnv, "FROM_FILE=override")
	assert.Contains(t, cfg.GlobalEnv, "QUOTED=two words")
}
