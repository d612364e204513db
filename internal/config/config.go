package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Env      string         `mapstructure:"env"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Rounds   RoundsConfig   `mapstructure:"rounds"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Status   StatusConfig   `mapstructure:"status"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Server   ServerConfig   `mapstructure:"server"`
}

type AgentConfig struct {
	Name string `mapstructure:"name"`
}

// RoundsConfig holds the orchestration tunables. They are read once at
// startup and never change for the lifetime of the process.
type RoundsConfig struct {
	MaxConcurrent            int     `mapstructure:"max_concurrent"`
	MaxLoginRetries          int     `mapstructure:"max_login_retries"`
	MaxRemediationAttempts   int     `mapstructure:"max_remediation_attempts"`
	MaxAccountFailures       int     `mapstructure:"max_account_failures"`
	SafeMarginThresholdHours float64 `mapstructure:"safe_margin_threshold_hours"`
	RoundIntervalHours       float64 `mapstructure:"round_interval_hours"`
	LoginRetryDelaySeconds   float64 `mapstructure:"login_retry_delay_seconds"`
}

type AccountsConfig struct {
	// Source is either "file" or "kafka".
	Source        string `mapstructure:"source"`
	File          string `mapstructure:"file"`
	RequireAtSign bool   `mapstructure:"require_at_sign"`
}

type StatusConfig struct {
	File string `mapstructure:"file"`
}

type KafkaConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Brokers []string    `mapstructure:"brokers"`
	Topics  KafkaTopics `mapstructure:"topics"`
}

type KafkaTopics struct {
	Roster   string `mapstructure:"roster"`
	Outcomes string `mapstructure:"outcomes"`
	Logs     string `mapstructure:"logs"`
}

type ServerConfig struct {
	HealthPort string `mapstructure:"health_port"`
}

const (
	SourceFile  = "file"
	SourceKafka = "kafka"
)

// Flags registers the command-line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.Bool("once", false, "run a single round and exit")
	fs.String("env", "", "environment: local, dev or prod")
	fs.Int("rounds.max_concurrent", 0, "accounts processed in parallel")
	fs.String("accounts.file", "", "file with one account per line")
	fs.String("status.file", "", "status file path")
	fs.String("server.health_port", "", "health API port")
	return fs
}

// Load builds the configuration from defaults, an optional YAML file, the
// environment and the given flags, in increasing order of precedence.
// Flags that were not set on the command line do not override anything.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := ""
	if flags != nil {
		configPath, _ = flags.GetString("config")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("local")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Changed && f.Name != "config" && f.Name != "once" {
				_ = v.BindPFlag(f.Name, f)
			}
		})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("agent.name", "upkeep-agent-01")

	v.SetDefault("rounds.max_concurrent", 6)
	v.SetDefault("rounds.max_login_retries", 10)
	v.SetDefault("rounds.max_remediation_attempts", 10)
	v.SetDefault("rounds.max_account_failures", 5)
	v.SetDefault("rounds.safe_margin_threshold_hours", 12)
	v.SetDefault("rounds.round_interval_hours", 11)
	v.SetDefault("rounds.login_retry_delay_seconds", 5)

	v.SetDefault("accounts.source", SourceFile)
	v.SetDefault("accounts.file", "./accounts.txt")
	v.SetDefault("accounts.require_at_sign", false)

	v.SetDefault("status.file", "./status.json")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.roster", "account-roster")
	v.SetDefault("kafka.topics.outcomes", "account-outcomes")
	v.SetDefault("kafka.topics.logs", "agent-logs")

	v.SetDefault("server.health_port", "8081")
}

func (c *Config) Validate() error {
	r := c.Rounds
	switch {
	case r.MaxConcurrent <= 0:
		return errors.New("rounds.max_concurrent must be positive")
	case r.MaxLoginRetries <= 0:
		return errors.New("rounds.max_login_retries must be positive")
	case r.MaxRemediationAttempts <= 0:
		return errors.New("rounds.max_remediation_attempts must be positive")
	case r.MaxAccountFailures <= 0:
		return errors.New("rounds.max_account_failures must be positive")
	case r.RoundIntervalHours <= 0:
		return errors.New("rounds.round_interval_hours must be positive")
	case r.LoginRetryDelaySeconds < 0:
		return errors.New("rounds.login_retry_delay_seconds must not be negative")
	}

	switch c.Accounts.Source {
	case SourceFile:
		if c.Accounts.File == "" {
			return errors.New("accounts.file is required for the file source")
		}
	case SourceKafka:
		if !c.Kafka.Enabled {
			return errors.New("accounts.source=kafka requires kafka.enabled")
		}
	default:
		return fmt.Errorf("unknown accounts.source %q", c.Accounts.Source)
	}

	if c.Status.File == "" {
		return errors.New("status.file is required")
	}

	return nil
}

func (c *Config) GetRoundInterval() time.Duration {
	return time.Duration(c.Rounds.RoundIntervalHours * float64(time.Hour))
}

func (c *Config) GetLoginRetryDelay() time.Duration {
	return time.Duration(c.Rounds.LoginRetryDelaySeconds * float64(time.Second))
}
