package core

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	ServiceName   string        `koanf:"service_name" mapstructure:"service_name"`
	TeamID        string        `koanf:"team_id" mapstructure:"team_id"`
	Concurrency   int           `koanf:"concurrency" mapstructure:"concurrency"`
	CallTimeout   time.Duration `koanf:"call_timeout" mapstructure:"call_timeout"`
	RetryAttempts int           `koanf:"retry_attempts" mapstructure:"retry_attempts"`
	ExcludedUsers []string      `koanf:"excluded_users" mapstructure:"excluded_users"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:   "groupsync",
		Concurrency:   4,
		CallTimeout:   30 * time.Second,
		RetryAttempts: 3,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("core: concurrency must be at least 1")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("core: call_timeout must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("core: retry_attempts must be at least 1")
	}
	return nil
}
