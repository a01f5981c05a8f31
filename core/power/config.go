package power

import (
	"fmt"
	"time"
)

// Config holds the control loop parameters.
type Config struct {
	// Enabled gates every publish; when false commands are only logged.
	Enabled          bool `json:"enabled"`
	IntervalSeconds  int  `json:"interval_seconds"`
	PublishTimeoutMS int  `json:"publish_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 5
	}
	if c.PublishTimeoutMS == 0 {
		c.PublishTimeoutMS = 2000
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be positive")
	}
	if c.PublishTimeoutMS <= 0 {
		return fmt.Errorf("publish_timeout_ms must be positive")
	}
	return nil
}

// Interval is the control cycle period.
func (c Config) Interval() time.Duration { return time.Duration(c.IntervalSeconds) * time.Second }

// PublishTimeout bounds a single command publish.
func (c Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}
