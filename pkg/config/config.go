package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Redis  RedisConfig  `yaml:"redis"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	Queue  QueueConfig  `yaml:"queue"`
	Logger LoggerConfig `yaml:"logger"`
	AWS    AWSConfig    `yaml:"aws"`
	Scaler ScalerConfig `yaml:"scaler"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for the operator API (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration (scaling change audit log)
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// QueueConfig invocation queue configuration
type QueueConfig struct {
	Concurrency int `yaml:"concurrency"` // concurrent scaling invocations
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// AWSConfig AWS client configuration
type AWSConfig struct {
	Region string `yaml:"region"`
}

// ScalerConfig scaling engine configuration
type ScalerConfig struct {
	Policy string `yaml:"policy"` // double-halve, step-bucket, relative-delta, range-bucket

	CooldownSeconds int `yaml:"cooldown_seconds"` // minimum time between two shard-count changes
	WindowSeconds   int `yaml:"window_seconds"`   // telemetry rolling window

	ShardByteCapacity   int64 `yaml:"shard_byte_capacity"`   // bytes per shard per second
	ShardRecordCapacity int64 `yaml:"shard_record_capacity"` // records per shard per second

	UpThreshold   float64 `yaml:"up_threshold"`   // usage fraction that triggers scale-up
	DownThreshold float64 `yaml:"down_threshold"` // usage fraction that triggers scale-down

	MetricNamespace   string   `yaml:"metric_namespace"`    // namespace of the raw stream metrics
	EvaluationPeriods int      `yaml:"evaluation_periods"`  // alarm evaluation windows
	DatapointsToAlarm int      `yaml:"datapoints_to_alarm"` // datapoints that must breach within the windows
	AlarmActions      []string `yaml:"alarm_actions"`       // notification targets the alarms publish to

	// Consumer iterator lag gate for scale-down. <= 0 disables the lag term.
	MinLagMinutesToBlock int `yaml:"min_lag_minutes_to_block"`

	MaxShards int `yaml:"max_shards"` // 0 means no upper bound

	StepSettleSeconds        int `yaml:"step_settle_seconds"`        // pause between non-final resharding steps
	StablePollSeconds        int `yaml:"stable_poll_seconds"`        // repoll delay while the stream is not active
	InvocationTimeoutSeconds int `yaml:"invocation_timeout_seconds"` // overall time limit for one invocation

	RetryMaxAttempts     int `yaml:"retry_max_attempts"`
	RetryBaseDelayMillis int `yaml:"retry_base_delay_millis"`

	DryRun        bool `yaml:"dry_run"`        // compute and log the plan, mutate nothing
	RetentionDays int  `yaml:"retention_days"` // audit row retention

	// Optional downstream consumer concurrency limit, proportional to shard count.
	DownstreamFunction  string `yaml:"downstream_function"`
	ConcurrencyPerShard int    `yaml:"concurrency_per_shard"`
}

// DefaultScalerConfig returns the defaults applied when values are missing or invalid.
func DefaultScalerConfig() ScalerConfig {
	return ScalerConfig{
		Policy:                   "double-halve",
		CooldownSeconds:          300,
		WindowSeconds:            300,
		ShardByteCapacity:        1024 * 1024,
		ShardRecordCapacity:      1000,
		UpThreshold:              0.75,
		DownThreshold:            0.25,
		MetricNamespace:          "AWS/Kinesis",
		EvaluationPeriods:        1,
		DatapointsToAlarm:        1,
		MinLagMinutesToBlock:     0,
		MaxShards:                0,
		StepSettleSeconds:        5,
		StablePollSeconds:        5,
		InvocationTimeoutSeconds: 600,
		RetryMaxAttempts:         4,
		RetryBaseDelayMillis:     200,
		RetentionDays:            7,
		ConcurrencyPerShard:      5,
	}
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	validateAndApplyDefaults(&cfg)

	GlobalConfig = &cfg
	return nil
}

// validateAndApplyDefaults falls invalid or missing scaler values back to
// defaults so a partly broken config file never disables the engine.
func validateAndApplyDefaults(cfg *Config) {
	defaults := DefaultScalerConfig()
	sc := &cfg.Scaler

	switch sc.Policy {
	case "double-halve", "step-bucket", "relative-delta", "range-bucket":
	default:
		sc.Policy = defaults.Policy
	}

	if sc.CooldownSeconds <= 0 {
		sc.CooldownSeconds = defaults.CooldownSeconds
	}
	if sc.WindowSeconds <= 0 {
		sc.WindowSeconds = defaults.WindowSeconds
	}
	if sc.ShardByteCapacity <= 0 {
		sc.ShardByteCapacity = defaults.ShardByteCapacity
	}
	if sc.ShardRecordCapacity <= 0 {
		sc.ShardRecordCapacity = defaults.ShardRecordCapacity
	}
	if sc.UpThreshold <= 0 || sc.UpThreshold > 1 {
		sc.UpThreshold = defaults.UpThreshold
	}
	if sc.DownThreshold <= 0 || sc.DownThreshold >= sc.UpThreshold {
		sc.DownThreshold = defaults.DownThreshold
	}
	if sc.MetricNamespace == "" {
		sc.MetricNamespace = defaults.MetricNamespace
	}
	if sc.EvaluationPeriods <= 0 {
		sc.EvaluationPeriods = defaults.EvaluationPeriods
	}
	if sc.DatapointsToAlarm <= 0 || sc.DatapointsToAlarm > sc.EvaluationPeriods {
		sc.DatapointsToAlarm = sc.EvaluationPeriods
	}
	if sc.MaxShards < 0 {
		sc.MaxShards = defaults.MaxShards
	}
	if sc.StepSettleSeconds <= 0 {
		sc.StepSettleSeconds = defaults.StepSettleSeconds
	}
	if sc.StablePollSeconds <= 0 {
		sc.StablePollSeconds = defaults.StablePollSeconds
	}
	if sc.InvocationTimeoutSeconds <= 0 {
		sc.InvocationTimeoutSeconds = defaults.InvocationTimeoutSeconds
	}
	if sc.RetryMaxAttempts <= 0 {
		sc.RetryMaxAttempts = defaults.RetryMaxAttempts
	}
	if sc.RetryBaseDelayMillis <= 0 {
		sc.RetryBaseDelayMillis = defaults.RetryBaseDelayMillis
	}
	if sc.RetentionDays <= 0 {
		sc.RetentionDays = defaults.RetentionDays
	}
	if sc.ConcurrencyPerShard <= 0 {
		sc.ConcurrencyPerShard = defaults.ConcurrencyPerShard
	}

	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 4
	}
}
