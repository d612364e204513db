package driver

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config describes how to reach the remote control sidecar.
type Config struct {
	URL            string        `env:"DRIVER_URL" env-default:"http://localhost:9300" env-description:"remote control service base URL"`
	Token          string        `env:"DRIVER_TOKEN" env-description:"bearer token for the remote control service"`
	RequestTimeout time.Duration `env:"DRIVER_REQUEST_TIMEOUT" env-default:"2m" env-description:"upper bound for a single driver call"`
	Password       string        `env:"DRIVER_ACCOUNT_PASSWORD" env-description:"shared account password forwarded on login"`
}

// LoadConfig reads the driver settings from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read driver config: %w", err)
	}
	return cfg, nil
}

// Usage describes the environment variables understood by LoadConfig.
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
