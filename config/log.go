package config

import (
	"fmt"
	"strings"
)

// LogConfig sets the log level and format.
type LogConfig struct {
	Level string `json:"level"`
	// Console switches to human-readable output.
	Console bool `json:"console"`
}

// SetDefaults applies sane defaults.
func (c *LogConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the level name.
func (c LogConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log: unknown level %q", c.Level)
	}
}
