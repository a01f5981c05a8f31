package config

import (
	"fmt"
	"net"
)

// HTTPConfig configures the status and control API.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	// Token protects the cycle history with a bearer token when set.
	Token string `json:"token"`
}

// SetDefaults applies sane defaults.
func (c *HTTPConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
}

// Validate checks the listen address.
func (c HTTPConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("http: invalid address %q: %w", c.Address, err)
	}
	return nil
}
