package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/cncstream/config"
	"github.com/mastercactapus/cncstream/grbl"
)

func TestParseFlags(t *testing.T) {
	f, args, err := parseFlags([]string{"-p", "/dev/ttyUSB0", "-b", "250000", "--buffer-size=64", "part.nc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"part.nc"}, args)

	cfg := config.Default()
	f.apply(&cfg)
	assert.Equal(t, config.Serial, cfg.Transport)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 250000, cfg.Serial.Baud)
	assert.Equal(t, 64, cfg.Stream.BufferSize)
	require.NoError(t, cfg.Validate())

	f, _, err = parseFlags([]string{"--spjs", "ws://pi:8989/ws", "-p", "COM3", "part.nc"})
	require.NoError(t, err)
	cfg = config.Default()
	f.apply(&cfg)
	assert.Equal(t, config.SPJS, cfg.Transport)
	assert.Equal(t, "COM3", cfg.SPJS.Port)

	f, _, err = parseFlags([]string{"--simulate", "--spjs", "ws://pi:8989/ws", "part.nc"})
	require.NoError(t, err)
	f.apply(&cfg)
	assert.Equal(t, config.Sim, cfg.Transport)

	_, _, err = parseFlags([]string{"a.nc", "b.nc"})
	assert.Error(t, err)
	_, _, err = parseFlags([]string{"--nope"})
	assert.Error(t, err)
}

func simConfig() config.Config {
	cfg := config.Default()
	cfg.Transport = config.Sim
	cfg.Sim.Interval = time.Millisecond
	cfg.StatusInterval = 5 * time.Millisecond
	return cfg
}

func writeJob(t *testing.T, lines ...string) string {
	path := filepath.Join(t.TempDir(), "job.nc")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))
	return path
}

func TestRun_Sim(t *testing.T) {
	path := writeJob(t, "; square", "G21 G90", "G0 X0 Y0", "G1 X10 F500", "G1 Y10", "G1 X0", "G1 Y0", "M2")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, run(ctx, simConfig(), path, log, &out))
	assert.Contains(t, out.String(), "100.0%")
	assert.Contains(t, out.String(), "done 7 of 7")
}

func TestRun_DeviceError(t *testing.T) {
	path := writeJob(t, "G21", "$Z", "G0 X1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(ctx, simConfig(), path, log, io.Discard)
	var gerr *grbl.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, 3, gerr.Code)
}

func TestRun_MissingFile(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(context.Background(), simConfig(), filepath.Join(t.TempDir(), "nope.nc"), log, io.Discard)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
