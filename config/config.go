// Package config loads the runtime configuration.
//
// Values are applied in order: built-in defaults, the YAML file, then
// CNCSTREAM_ prefixed environment variables. Command line flags are applied
// by the binaries on top of the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CNCSTREAM_"

// Transport names.
const (
	Serial = "serial"
	SPJS   = "spjs"
	Sim    = "sim"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	// Transport selects how the controller is reached: serial, spjs or sim.
	Transport string `yaml:"transport" env:"TRANSPORT"`

	Serial  SerialConfig  `yaml:"serial" envPrefix:"SERIAL_"`
	SPJS    SPJSConfig    `yaml:"spjs" envPrefix:"SPJS_"`
	Sim     SimConfig     `yaml:"sim" envPrefix:"SIM_"`
	Stream  StreamConfig  `yaml:"stream" envPrefix:"STREAM_"`
	Pendant PendantConfig `yaml:"pendant" envPrefix:"PENDANT_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`

	// StatusInterval is how often a status report is requested. Zero disables polling.
	StatusInterval time.Duration `yaml:"status_interval" env:"STATUS_INTERVAL"`
}

// SerialConfig selects a local serial port by name or by USB IDs.
type SerialConfig struct {
	Port string `yaml:"port" env:"PORT"`
	Baud int    `yaml:"baud" env:"BAUD"`
	VID  string `yaml:"vid" env:"VID"`
	PID  string `yaml:"pid" env:"PID"`
}

func (c SerialConfig) selected() bool { return c.Port != "" || (c.VID != "" && c.PID != "") }

// SPJSConfig selects a port shared by a Serial Port JSON Server.
type SPJSConfig struct {
	URL  string `yaml:"url" env:"URL"`
	Port string `yaml:"port" env:"PORT"`
	VID  string `yaml:"vid" env:"VID"`
	PID  string `yaml:"pid" env:"PID"`
}

type SimConfig struct {
	// Interval is the time the simulated controller takes per line.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

type StreamConfig struct {
	// BufferSize overrides the controller receive buffer size when non-zero.
	BufferSize     int    `yaml:"buffer_size" env:"BUFFER_SIZE"`
	LineTerminator string `yaml:"line_terminator" env:"LINE_TERMINATOR"`
}

// PendantConfig enables the jog pendant when a port is selected.
type PendantConfig struct {
	Port string `yaml:"port" env:"PORT"`
	VID  string `yaml:"vid" env:"VID"`
	PID  string `yaml:"pid" env:"PID"`
}

// Enabled reports whether a pendant port was configured.
func (c PendantConfig) Enabled() bool { return SerialConfig{Port: c.Port, VID: c.VID, PID: c.PID}.selected() }

type MetricsConfig struct {
	// Addr is the listen address of the metrics endpoint. Empty disables it.
	Addr string `yaml:"addr" env:"ADDR"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Transport: Serial,
		Serial: SerialConfig{
			Baud: 115200,
			VID:  "1a86",
			PID:  "7523",
		},
		SPJS: SPJSConfig{
			URL: "ws://localhost:8989/ws",
		},
		Sim: SimConfig{
			Interval: 10 * time.Millisecond,
		},
		Stream: StreamConfig{
			LineTerminator: "\n",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		StatusInterval: 250 * time.Millisecond,
	}
}

// Load reads the YAML file at path, if any, and applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		err = yaml.Unmarshal(data, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix})
	if err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	return cfg, cfg.Validate()
}

func (cfg Config) Validate() error {
	switch cfg.Transport {
	case Serial:
		if !cfg.Serial.selected() {
			return fmt.Errorf("%w: serial port or vid/pid required", ErrInvalid)
		}
		if cfg.Serial.Baud <= 0 {
			return fmt.Errorf("%w: serial baud must be positive", ErrInvalid)
		}
	case SPJS:
		if cfg.SPJS.URL == "" {
			return fmt.Errorf("%w: spjs url required", ErrInvalid)
		}
		if cfg.SPJS.Port == "" && (cfg.SPJS.VID == "" || cfg.SPJS.PID == "") {
			return fmt.Errorf("%w: spjs port or vid/pid required", ErrInvalid)
		}
	case Sim:
		if cfg.Sim.Interval <= 0 {
			return fmt.Errorf("%w: sim interval must be positive", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, cfg.Transport)
	}

	if cfg.Stream.BufferSize < 0 {
		return fmt.Errorf("%w: buffer size must not be negative", ErrInvalid)
	}
	if cfg.StatusInterval < 0 {
		return fmt.Errorf("%w: status interval must not be negative", ErrInvalid)
	}

	return cfg.Log.validate()
}
