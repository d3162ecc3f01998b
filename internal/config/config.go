// Package config loads and validates daemon configuration.
// Values come from Default, optionally overlaid by a YAML file, and then by
// command-line flags in cmd/power-button.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/power-button/internal/gpio"
)

// Config is the full daemon configuration.
type Config struct {
	GPIO      GPIO          `yaml:"gpio"`
	Timing    Timing        `yaml:"timing"`
	SafetyOff SafetyOff     `yaml:"safety_off"`
	MQTT      MQTT          `yaml:"mqtt"`
	HTTP      HTTP          `yaml:"http"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// GPIO selects the backend and line map.
type GPIO struct {
	Backend string    `yaml:"backend"`
	Chip    string    `yaml:"chip"`
	Pins    gpio.Pins `yaml:"pins"`
}

// Timing holds the loop and debounce timings.
type Timing struct {
	// Tick is the period of the tick handler.
	Tick time.Duration `yaml:"tick"`
	// Poll is the period of the main poll loop. It should be shorter
	// than Tick so the safety timeout fires within one tick.
	Poll time.Duration `yaml:"poll"`
	// Debounce is the settle delay between the two samples of an input.
	Debounce time.Duration `yaml:"debounce"`
	// Flash is the LED toggle period while shutting down.
	Flash time.Duration `yaml:"flash"`
}

// SafetyOff bounds how long the controller waits for shutdown confirmation.
type SafetyOff struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// MQTT configures event publishing.
type MQTT struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	Topic      string `yaml:"topic"`
	BufferSize int    `yaml:"buffer_size"`
}

// HTTP configures the status server. An empty Addr disables it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GPIO: GPIO{
			Backend: gpio.BackendCdev,
			Chip:    "gpiochip0",
			Pins:    gpio.DefaultPins(),
		},
		Timing: Timing{
			Tick:     10 * time.Millisecond,
			Poll:     2 * time.Millisecond,
			Debounce: 300 * time.Microsecond,
			Flash:    500 * time.Millisecond,
		},
		SafetyOff: SafetyOff{
			Enabled: true,
			Timeout: 50 * time.Second,
		},
		MQTT: MQTT{
			Broker:     "tcp://localhost:1883",
			ClientID:   "power-button",
			Topic:      "power/button",
			BufferSize: 100,
		},
		HTTP:      HTTP{Addr: ":8080"},
		Heartbeat: 15 * time.Minute,
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values not present in data.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c Config) Validate() error {
	switch c.GPIO.Backend {
	case gpio.BackendCdev, gpio.BackendPeriph, gpio.BackendRpio:
	default:
		return fmt.Errorf("gpio.backend: unknown backend %q", c.GPIO.Backend)
	}
	if err := c.GPIO.Pins.Validate(); err != nil {
		return fmt.Errorf("gpio.pins: %w", err)
	}
	if c.Timing.Tick <= 0 {
		return fmt.Errorf("timing.tick: must be positive, got %v", c.Timing.Tick)
	}
	if c.Timing.Poll <= 0 {
		return fmt.Errorf("timing.poll: must be positive, got %v", c.Timing.Poll)
	}
	if c.Timing.Poll > c.Timing.Tick {
		return fmt.Errorf("timing.poll: %v must not exceed timing.tick %v", c.Timing.Poll, c.Timing.Tick)
	}
	if c.Timing.Debounce < 0 || c.Timing.Debounce >= c.Timing.Poll {
		return fmt.Errorf("timing.debounce: must be in [0, timing.poll), got %v", c.Timing.Debounce)
	}
	if c.Timing.Flash < c.Timing.Tick {
		return fmt.Errorf("timing.flash: must be at least one tick, got %v", c.Timing.Flash)
	}
	if n := tickCount(c.Timing.Flash, c.Timing.Tick); n > math.MaxInt32 {
		return fmt.Errorf("timing.flash: %v is %d ticks, limit is %d", c.Timing.Flash, n, int64(math.MaxInt32))
	}
	if c.SafetyOff.Enabled {
		if c.SafetyOff.Timeout < c.Timing.Tick {
			return fmt.Errorf("safety_off.timeout: must be at least one tick, got %v", c.SafetyOff.Timeout)
		}
		if n := tickCount(c.SafetyOff.Timeout, c.Timing.Tick); n > math.MaxInt32 {
			return fmt.Errorf("safety_off.timeout: %v is %d ticks, limit is %d", c.SafetyOff.Timeout, n, int64(math.MaxInt32))
		}
	}
	if c.MQTT.Broker != "" && c.MQTT.BufferSize < 1 {
		return fmt.Errorf("mqtt.buffer_size: must be positive, got %d", c.MQTT.BufferSize)
	}
	return nil
}

// FlashTicks returns the LED flash period in ticks.
func (c Config) FlashTicks() int32 {
	return ticks(c.Timing.Flash, c.Timing.Tick)
}

// SafetyOffTicks returns the safety timeout in ticks, or zero when disabled.
func (c Config) SafetyOffTicks() int32 {
	if !c.SafetyOff.Enabled {
		return 0
	}
	return ticks(c.SafetyOff.Timeout, c.Timing.Tick)
}

// ticks converts d to a whole number of ticks, rounding to nearest and
// clamped to [1, math.MaxInt32].
func ticks(d, tick time.Duration) int32 {
	n := tickCount(d, tick)
	switch {
	case n < 1:
		return 1
	case n > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(n)
}

// tickCount is d in ticks, rounded to nearest.
func tickCount(d, tick time.Duration) int64 {
	n := d / tick
	if rem := d % tick; rem >= tick-rem {
		n++
	}
	return int64(n)
}
