package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/power"
	"github.com/kilianp07/hems/infra/forecast"
	"github.com/kilianp07/hems/infra/mqtt"
	"github.com/kilianp07/hems/infra/omie"
	"github.com/kilianp07/hems/infra/scheduler"
)

// EnvControlEnabled overrides control.enabled when set.
const EnvControlEnabled = "POWER_CONTROL_ENABLED"

type Config struct {
	MQTT     mqtt.Config        `json:"mqtt"`
	Victron  mqtt.VictronConfig `json:"victron"`
	Control  power.Config       `json:"control"`
	Metrics  metrics.Config     `json:"metrics"`
	Storage  StorageConfig      `json:"storage"`
	Tasks    scheduler.Config   `json:"tasks"`
	Forecast forecast.Config    `json:"forecast"`
	Prices   omie.Config        `json:"prices"`
	HTTP     HTTPConfig         `json:"http"`
	Sentry   SentryConfig       `json:"sentry"`
	Log      LogConfig          `json:"log"`
}

// Load reads the file at path, applies K_ environment overrides, fills in
// defaults and validates the result. An empty path loads defaults and the
// environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(EnvControlEnabled); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvControlEnabled, err)
		}
		cfg.Control.Enabled = enabled
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.Victron.SetDefaults()
	c.Control.SetDefaults()
	c.Storage.SetDefaults()
	c.Tasks.SetDefaults()
	c.Forecast.SetDefaults()
	c.Prices.SetDefaults()
	c.HTTP.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	return errors.Join(
		c.MQTT.Validate(),
		c.Victron.Validate(),
		c.Control.Validate(),
		c.Storage.Validate(),
		c.Tasks.Validate(),
		c.Forecast.Validate(),
		c.Prices.Validate(),
		c.HTTP.Validate(),
		c.Sentry.Validate(),
		c.Log.Validate(),
	)
}
