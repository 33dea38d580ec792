// Package connect opens the transports selected by the configuration.
package connect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mastercactapus/cncstream/config"
	"github.com/mastercactapus/cncstream/grbl"
	"github.com/mastercactapus/cncstream/grblsim"
	"github.com/mastercactapus/cncstream/pendant"
	"github.com/mastercactapus/cncstream/serialport"
	"github.com/mastercactapus/cncstream/spjs"
	"github.com/mastercactapus/cncstream/stream"
)

// SimCapacity is the receive buffer of the simulated controller.
const SimCapacity = 128

// Link is a transport that announces inbound data.
type Link interface {
	stream.Transport
	SetNotify(func())
	Close() error
}

var (
	_ Link = &serialport.Port{}
	_ Link = &spjs.Port{}
	_ Link = &simLink{}
)

// Dialer opens links for one configuration. Links opened through SPJS
// share a single server connection.
type Dialer struct {
	cfg config.Config
	log *slog.Logger

	cli *spjs.Client
}

func NewDialer(cfg config.Config, log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{cfg: cfg, log: log}
}

func (d *Dialer) client() *spjs.Client {
	if d.cli == nil {
		d.cli = spjs.NewClient(d.cfg.SPJS.URL, spjs.Options{Logger: d.log})
	}
	return d.cli
}

// Controller opens the link to the motion controller.
func (d *Dialer) Controller(ctx context.Context) (Link, error) {
	switch d.cfg.Transport {
	case config.Sim:
		return newSimLink(d.cfg.Sim), nil
	case config.SPJS:
		c := d.cfg.SPJS
		return d.spjsPort(ctx, c.Port, c.VID, c.PID, grbl.BaudRate)
	case config.Serial:
		c := d.cfg.Serial
		return d.serialPort(c.Port, c.VID, c.PID, c.Baud)
	}
	return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalid, d.cfg.Transport)
}

// Pendant opens the link to the jog pendant. Pendants share the SPJS server
// when the controller is reached through one.
func (d *Dialer) Pendant(ctx context.Context) (Link, error) {
	c := d.cfg.Pendant
	if d.cfg.Transport == config.SPJS {
		return d.spjsPort(ctx, c.Port, c.VID, c.PID, pendant.BaudRate)
	}
	return d.serialPort(c.Port, c.VID, c.PID, pendant.BaudRate)
}

func (d *Dialer) spjsPort(ctx context.Context, name, vid, pid string, baud int) (Link, error) {
	match := spjs.MatchVIDPID(vid, pid)
	if name != "" {
		match = spjs.MatchName(name)
	}

	cli := d.client()
	port := cli.NewPort(match, spjs.PortOptions{BaudRate: baud})
	sp, err := cli.WaitForPort(ctx, match)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("wait for SPJS port: %w", err)
	}
	d.log.Info("using SPJS port", "port", sp.Name, "baud", baud)
	return port, nil
}

func (d *Dialer) serialPort(name, vid, pid string, baud int) (Link, error) {
	if name == "" {
		var err error
		name, err = serialport.Find(serialport.MatchVIDPID(vid, pid))
		if err != nil {
			return nil, fmt.Errorf("find serial port %s:%s: %w", vid, pid, err)
		}
	}
	d.log.Info("using serial port", "port", name, "baud", baud)
	return serialport.Open(name, baud, serialport.Options{Logger: d.log})
}

// Close releases the shared SPJS connection, if any. Links must be closed
// separately.
func (d *Dialer) Close() error {
	if d.cli == nil {
		return nil
	}
	return d.cli.Close()
}

type simLink struct {
	*grblsim.Sim
	cancel context.CancelFunc
}

func newSimLink(cfg config.SimConfig) *simLink {
	ctx, cancel := context.WithCancel(context.Background())
	sim := grblsim.New(SimCapacity)
	go sim.Run(ctx, cfg.Interval)
	return &simLink{Sim: sim, cancel: cancel}
}

func (l *simLink) Close() error {
	l.cancel()
	return l.Sim.Close()
}
