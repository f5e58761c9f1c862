// Package config loads the daemon's optional YAML configuration file.
// Values not present in the file keep their defaults; command-line flags
// set explicitly override the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/zerocross-relay/internal/gpio"
	"github.com/sweeney/zerocross-relay/internal/relay"
)

// Duration is a time.Duration that unmarshals from strings like "2ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"2ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the daemon configuration file schema.
type Config struct {
	Engine         string   `yaml:"engine"` // "counter" or "pulse"
	Chip           string   `yaml:"chip"`
	PinZeroCross   int      `yaml:"pin_zero_cross"`
	PinRelay       int      `yaml:"pin_relay"`
	CycleLength    int      `yaml:"cycle_length"`
	CommitDelay    Duration `yaml:"commit_delay"`
	Glitch         Duration `yaml:"glitch"`
	FlipPoint      int      `yaml:"flip_point"`
	StatusInterval Duration `yaml:"status_interval"`
	Broker         string   `yaml:"broker"` // empty disables MQTT
}

// Default returns the reference-design configuration.
func Default() Config {
	return Config{
		Engine:         "counter",
		Chip:           "gpiochip0",
		PinZeroCross:   gpio.DefaultPinZeroCross,
		PinRelay:       gpio.DefaultPinRelay,
		CycleLength:    relay.DefaultCycleLength,
		CommitDelay:    Duration(relay.DefaultCommitDelay),
		FlipPoint:      relay.DefaultFlipPoint,
		StatusInterval: Duration(5 * time.Second),
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Engine != "counter" && c.Engine != "pulse" {
		return fmt.Errorf("engine %q: must be \"counter\" or \"pulse\"", c.Engine)
	}
	if c.CycleLength < 1 {
		return fmt.Errorf("cycle_length %d: must be at least 1", c.CycleLength)
	}
	if c.FlipPoint < 0 || c.FlipPoint > c.CycleLength {
		return fmt.Errorf("flip_point %d: outside [0, %d]", c.FlipPoint, c.CycleLength)
	}
	if c.CommitDelay < 0 || c.Glitch < 0 || c.StatusInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}
