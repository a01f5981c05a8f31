package config

import (
	"fmt"

	"github.com/kilianp07/hems/core/cyclelog"
)

// StorageConfig locates persistent state.
type StorageConfig struct {
	// ModesPath is the SQLite database holding the charge modes. Empty
	// disables persistence.
	ModesPath string          `json:"modes_path"`
	CycleLog  cyclelog.Config `json:"cycle_log"`
}

// SetDefaults applies sane defaults.
func (c *StorageConfig) SetDefaults() {
	if c.ModesPath == "" {
		c.ModesPath = "hems.db"
	}
	c.CycleLog.SetDefaults()
}

// Validate checks the cycle log settings.
func (c StorageConfig) Validate() error {
	if err := c.CycleLog.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}
