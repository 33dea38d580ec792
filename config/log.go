package config

import (
	"fmt"
	"io"
	"log/slog"
)

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func (c LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(c.Level))
	if err != nil {
		return 0, fmt.Errorf("%w: log level: %w", ErrInvalid, err)
	}
	return lvl, nil
}

func (c LogConfig) validate() error {
	_, err := c.level()
	if err != nil {
		return err
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Format)
	}
	return nil
}

// Logger returns a logger writing to w.
func (c LogConfig) Logger(w io.Writer) (*slog.Logger, error) {
	err := c.validate()
	if err != nil {
		return nil, err
	}
	lvl, _ := c.level()
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
