// Package config loads the supervisor's configuration file (TOML, YAML,
// or JSON) and applies defaults and bounds.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/corectl/supervisor/internal/health"
	"github.com/corectl/supervisor/internal/pool"
	"github.com/corectl/supervisor/internal/restart"
)

// Config is the full supervisor configuration.
type Config struct {
	RefreshInterval      time.Duration `mapstructure:"refresh_interval"`
	EnableProcessTree    bool          `mapstructure:"enable_process_tree"`
	MonitorSystemMetrics bool          `mapstructure:"monitor_system_metrics"`
	BufferSize           int           `mapstructure:"buffer_size"`
	EnableAutoRestart    bool          `mapstructure:"enable_auto_restart"`
	MaxProcessHistory    int           `mapstructure:"max_process_history"`

	// auto | darwin | linux | mock
	PlatformAdapter   string `mapstructure:"platform_adapter"`
	AllowMockFallback *bool  `mapstructure:"allow_mock_fallback"`

	UseOSEnv bool     `mapstructure:"use_os_env"`
	EnvFiles []string `mapstructure:"env_files"`
	Env      []string `mapstructure:"env"`

	Registry         RegistryConfig         `mapstructure:"registry"`
	HealthMonitoring HealthMonitoringConfig `mapstructure:"health_monitoring"`
	AutoRestart      AutoRestartConfig      `mapstructure:"auto_restart"`

	EnableIPC bool      `mapstructure:"enable_ipc"`
	IPC       IPCConfig `mapstructure:"ipc"`

	EnablePooling bool         `mapstructure:"enable_pooling"`
	Pools         []PoolConfig `mapstructure:"pools"`

	Supervised []SupervisedConfig `mapstructure:"supervised"`

	History *HistoryConfig `mapstructure:"history"`
	Metrics *MetricsConfig `mapstructure:"metrics"`
	Log     *LogConfig     `mapstructure:"log"`
	Server  *ServerConfig  `mapstructure:"server"`

	// Computed fields
	GlobalEnv []string

	configPath string
}

// RegistryConfig carries store selection and cleanup horizons.
type RegistryConfig struct {
	StoreDSN             string        `mapstructure:"store_dsn"`
	ProcessRetentionDays int           `mapstructure:"process_retention_days"`
	EventRetentionDays   int           `mapstructure:"event_retention_days"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
}

// HealthMonitoringConfig carries the hysteresis thresholds and global tick.
type HealthMonitoringConfig struct {
	GlobalInterval     time.Duration `mapstructure:"global_interval"`
	HealthyThreshold   int           `mapstructure:"healthy_threshold"`
	UnhealthyThreshold int           `mapstructure:"unhealthy_threshold"`
}

// AutoRestartConfig mirrors restart.Config for file decoding.
type AutoRestartConfig struct {
	Enabled                     bool          `mapstructure:"enabled"`
	Policy                      string        `mapstructure:"policy"`
	Strategy                    string        `mapstructure:"strategy"`
	MaxRestarts                 int           `mapstructure:"max_restarts"`
	TimeWindow                  time.Duration `mapstructure:"time_window"`
	InitialDelay                time.Duration `mapstructure:"initial_delay"`
	MaxDelay                    time.Duration `mapstructure:"max_delay"`
	BackoffMultiplier           float64       `mapstructure:"backoff_multiplier"`
	HealthCheckGracePeriod      time.Duration `mapstructure:"health_check_grace_period"`
	RestartOnHealthCheckFailure bool          `mapstructure:"restart_on_health_check_failure"`
	RestartOnProcessExit        bool          `mapstructure:"restart_on_process_exit"`
	RestartOnCrash              bool          `mapstructure:"restart_on_crash"`
}

// ToEngineConfig converts the decoded form into restart.Config.
func (c AutoRestartConfig) ToEngineConfig() restart.Config {
	return restart.Config{
		Enabled:                     c.Enabled,
		Policy:                      restart.Policy(c.Policy),
		Strategy:                    restart.Strategy(c.Strategy),
		MaxRestarts:                 c.MaxRestarts,
		TimeWindow:                  c.TimeWindow,
		InitialDelay:                c.InitialDelay,
		MaxDelay:                    c.MaxDelay,
		BackoffMultiplier:           c.BackoffMultiplier,
		HealthCheckGracePeriod:      c.HealthCheckGracePeriod,
		RestartOnHealthCheckFailure: c.RestartOnHealthCheckFailure,
		RestartOnProcessExit:        c.RestartOnProcessExit,
		RestartOnCrash:              c.RestartOnCrash,
	}
}

// IPCConfig tunes the in-process broker.
type IPCConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// PoolConfig is the file form of one worker pool; decoded into
// pool.Config via ToPool.
type PoolConfig struct {
	Name                string          `mapstructure:"name"`
	WorkerCommand       string          `mapstructure:"worker_command"`
	WorkerArgs          []string        `mapstructure:"worker_args"`
	WorkDir             string          `mapstructure:"work_dir"`
	MinWorkers          int             `mapstructure:"min_workers"`
	MaxWorkers          int             `mapstructure:"max_workers"`
	InitialWorkers      int             `mapstructure:"initial_workers"`
	ScalingStrategy     string          `mapstructure:"scaling_strategy"`
	LoadBalancing       string          `mapstructure:"load_balancing"`
	WorkerWeights       []int           `mapstructure:"worker_weights"`
	HealthCheckInterval time.Duration   `mapstructure:"health_check_interval"`
	WorkerIdleTimeout   time.Duration   `mapstructure:"worker_idle_timeout"`
	TaskTimeout         time.Duration   `mapstructure:"task_timeout"`
	MaxQueueSize        int             `mapstructure:"max_queue_size"`
	ScaleCooldown       time.Duration   `mapstructure:"scale_cooldown"`
	QueueHighWater      int             `mapstructure:"queue_high_water"`
	MaxWorkerFailures   int             `mapstructure:"max_worker_failures"`
	Schedules           []pool.Schedule `mapstructure:"schedules"`
}

// ToPool converts the decoded form into pool.Config.
func (c PoolConfig) ToPool() pool.Config {
	return pool.Config{
		Name:                c.Name,
		WorkerCommand:       c.WorkerCommand,
		WorkerArgs:          c.WorkerArgs,
		WorkDir:             c.WorkDir,
		MinWorkers:          c.MinWorkers,
		MaxWorkers:          c.MaxWorkers,
		InitialWorkers:      c.InitialWorkers,
		ScalingStrategy:     pool.Strategy(c.ScalingStrategy),
		LoadBalancing:       pool.Algorithm(c.LoadBalancing),
		WorkerWeights:       c.WorkerWeights,
		HealthCheckInterval: c.HealthCheckInterval,
		WorkerIdleTimeout:   c.WorkerIdleTimeout,
		TaskTimeout:         c.TaskTimeout,
		MaxQueueSize:        c.MaxQueueSize,
		ScaleCooldown:       c.ScaleCooldown,
		QueueHighWater:      c.QueueHighWater,
		MaxWorkerFailures:   c.MaxWorkerFailures,
		Schedules:           c.Schedules,
	}
}

// SupervisedConfig installs supervision for a process matched by name at
// startup: health checks plus an optional auto-restart override.
type SupervisedConfig struct {
	NameMatch   string             `mapstructure:"name_match"`
	Checks      []HealthCheckEntry `mapstructure:"checks"`
	AutoRestart *AutoRestartConfig `mapstructure:"auto_restart"`
}

// HealthCheckEntry is the discriminated-union file form of one health
// check: {type, spec}.
type HealthCheckEntry struct {
	Type string         `mapstructure:"type"`
	Spec map[string]any `mapstructure:"spec"`
}

// ToCheck decodes the entry into a validated health.Check.
func (e HealthCheckEntry) ToCheck() (health.Check, error) {
	c, err := decodeTo[checkSpec](e.Spec)
	if err != nil {
		return health.Check{}, fmt.Errorf("decode health check spec: %w", err)
	}
	out := health.Check{
		Type:               health.Type(strings.TrimSpace(e.Type)),
		Enabled:            true,
		Interval:           c.Interval,
		Timeout:            c.Timeout,
		Retries:            c.Retries,
		MaxCPUPercent:      c.MaxCPUPercent,
		SustainedFor:       c.SustainedFor,
		MaxMemoryMB:        c.MaxMemoryMB,
		MaxMemoryPercent:   c.MaxMemoryPercent,
		URL:                c.URL,
		ExpectedStatusCode: c.ExpectedStatusCode,
		ExpectedResponse:   c.ExpectedResponse,
		ScriptPath:         c.ScriptPath,
		ScriptArgs:         c.ScriptArgs,
		WorkingDirectory:   c.WorkingDirectory,
		ExpectedExitCode:   c.ExpectedExitCode,
	}
	if c.Enabled != nil {
		out.Enabled = *c.Enabled
	}
	if out.Interval == 0 {
		out.Interval = 5 * time.Second
	}
	if out.Timeout == 0 {
		out.Timeout = time.Second
	}
	if err := out.Validate(); err != nil {
		return health.Check{}, err
	}
	return out, nil
}

type checkSpec struct {
	Enabled            *bool         `mapstructure:"enabled"`
	Interval           time.Duration `mapstructure:"interval"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Retries            int           `mapstructure:"retries"`
	MaxCPUPercent      float64       `mapstructure:"max_cpu_percent"`
	SustainedFor       time.Duration `mapstructure:"sustained_for"`
	MaxMemoryMB        float64       `mapstructure:"max_memory_mb"`
	MaxMemoryPercent   float64       `mapstructure:"max_memory_percent"`
	URL                string        `mapstructure:"url"`
	ExpectedStatusCode int           `mapstructure:"expected_status_code"`
	ExpectedResponse   string        `mapstructure:"expected_response"`
	ScriptPath         string        `mapstructure:"script_path"`
	ScriptArgs         []string      `mapstructure:"script_args"`
	WorkingDirectory   string        `mapstructure:"working_directory"`
	ExpectedExitCode   int           `mapstructure:"expected_exit_code"`
}

// HistoryConfig selects lifecycle-event export sinks.
type HistoryConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	InStore         *bool  `mapstructure:"in_store"`
	OpenSearchURL   string `mapstructure:"opensearch_url"`
	OpenSearchIndex string `mapstructure:"opensearch_index"`
	ClickHouseURL   string `mapstructure:"clickhouse_url"`
	ClickHouseTable string `mapstructure:"clickhouse_table"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LogConfig carries rotation defaults for worker output.
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Listen        string     `mapstructure:"listen"`
	BasePath      string     `mapstructure:"base_path"`
	AuthEnabled   bool       `mapstructure:"auth_enabled"`
	JWTSecret     string     `mapstructure:"jwt_secret"`
	TLSMinVersion string     `mapstructure:"tls_min_version"`
	TLSMaxVersion string     `mapstructure:"tls_max_version"`
	TLS           *TLSConfig `mapstructure:"tls"`
}

// TLSConfig configures server TLS, optionally auto-generating a
// self-signed certificate into Dir.
type TLSConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	CertFile     string      `mapstructure:"cert_file"`
	KeyFile      string      `mapstructure:"key_file"`
	Dir          string      `mapstructure:"dir"`
	AutoGenerate bool        `mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `mapstructure:"auto_gen"`
}

// AutoGenTLS tunes self-signed certificate generation.
type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// helper to decode map[string]any to a target type using mapstructure
func decodeTo[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// Bounds for refresh_interval per the published configuration contract.
const (
	MinRefreshInterval = 100 * time.Millisecond
	MaxRefreshInterval = 10 * time.Second
)

// LoadDefaults returns a Config with every default applied and no file
// read. Used when the daemon runs without a config flag.
func LoadDefaults() (*Config, error) {
	c := &Config{}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadConfig reads and validates configPath.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{configPath: configPath}

	if err := parseConfigFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	globalEnv, err := computeGlobalEnv(config.UseOSEnv, config.EnvFiles, config.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to compute global env: %w", err)
	}
	config.GlobalEnv = globalEnv

	return config, nil
}

func parseConfigFile(configPath string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(out, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 2 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 300
	}
	if c.MaxProcessHistory <= 0 {
		c.MaxProcessHistory = 1000
	}
	if c.PlatformAdapter == "" {
		c.PlatformAdapter = "auto"
	}
	if c.Registry.StoreDSN == "" {
		c.Registry.StoreDSN = "memory://"
	}
	if c.Registry.ProcessRetentionDays <= 0 {
		c.Registry.ProcessRetentionDays = 7
	}
	if c.Registry.EventRetentionDays <= 0 {
		c.Registry.EventRetentionDays = 30
	}
	if c.Registry.CleanupInterval <= 0 {
		c.Registry.CleanupInterval = time.Hour
	}
	if c.HealthMonitoring.GlobalInterval <= 0 {
		c.HealthMonitoring.GlobalInterval = 5 * time.Second
	}
	if c.HealthMonitoring.HealthyThreshold <= 0 {
		c.HealthMonitoring.HealthyThreshold = 2
	}
	if c.HealthMonitoring.UnhealthyThreshold <= 0 {
		c.HealthMonitoring.UnhealthyThreshold = 2
	}
	if c.IPC.DefaultTimeout <= 0 {
		c.IPC.DefaultTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.RefreshInterval < MinRefreshInterval || c.RefreshInterval > MaxRefreshInterval {
		return fmt.Errorf("refresh_interval %s outside [%s, %s]", c.RefreshInterval, MinRefreshInterval, MaxRefreshInterval)
	}
	switch c.PlatformAdapter {
	case "auto", "darwin", "linux", "mock":
	default:
		return fmt.Errorf("unknown platform_adapter %q (allowed: auto, darwin, linux, mock)", c.PlatformAdapter)
	}
	for i, pc := range c.Pools {
		if err := pc.ToPool().Validate(); err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
	}
	for i, sc := range c.Supervised {
		if strings.TrimSpace(sc.NameMatch) == "" {
			return fmt.Errorf("supervised[%d]: name_match required", i)
		}
		for j, e := range sc.Checks {
			if _, err := e.ToCheck(); err != nil {
				return fmt.Errorf("supervised[%d].checks[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func computeGlobalEnv(useOSEnv bool, envFiles []string, env []string) ([]string, error) {
	envMap := make(map[string]string)

	if useOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				envMap[kv[:i]] = kv[i+1:]
			}
		}
	}

	for _, envFile := range envFiles {
		fileEnv, err := loadEnvFile(envFile)
		if err != nil {
			return nil, err
		}
		for key, value := range fileEnv {
			envMap[key] = value
		}
	}

	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			envMap[kv[:i]] = kv[i+1:]
		}
	}

	result := make([]string, 0, len(envMap))
	for key, value := range envMap {
		result = append(result, key+"="+value)
	}
	sort.Strings(result)

	return result, nil
}

func loadEnvFile(filePath string) (map[string]string, error) {
	// #nosec 304
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	env := make(map[string]string)
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if idx := strings.IndexByte(line, '='); idx >= 0 {
			key := strings.TrimSpace(line[:idx])
			value := strings.TrimSpace(line[idx+1:])
			if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
				value = value[1 : len(value)-1]
			}
			env[key] = value
		} else {
			return nil, fmt.Errorf("invalid env line at %s:%d: %s", filePath, i+1, line)
		}
	}

	return env, nil
}
