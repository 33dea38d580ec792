package connect

import (
	"context"
	"testing"
	"time"

	"github.com/mastercactapus/cncstream/config"
	"github.com/mastercactapus/cncstream/grbl"
	"github.com/mastercactapus/cncstream/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialer_Sim(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = config.Sim
	cfg.Sim.Interval = time.Millisecond

	d := NewDialer(cfg, nil)
	defer d.Close()

	link, err := d.Controller(context.Background())
	require.NoError(t, err)
	defer link.Close()

	ctrl, err := machine.NewController(link, grbl.New(), machine.Options{})
	require.NoError(t, err)
	link.SetNotify(func() { _ = ctrl.DataAvailable() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Run(ctx, "G21", "G90", "G0 X10 Y5"))
	assert.False(t, ctrl.HasActiveCommands())
}

func TestDialer_Unknown(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = "tin-can"

	_, err := NewDialer(cfg, nil).Controller(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestDialer_SPJSTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = config.SPJS
	cfg.SPJS.URL = "ws://127.0.0.1:1/ws"
	cfg.SPJS.Port = "/dev/ttyUSB0"

	d := NewDialer(cfg, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Controller(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
