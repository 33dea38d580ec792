// Package pendant relays an Arduino jog pendant to a machine controller.
//
// The pendant prints `STEP:axis,multiplier,steps` for every detent of its
// hand wheel and `STOP` when the stop button is pressed.
package pendant

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const BaudRate = 115200

// Target receives the pendant actions.
type Target interface {
	CommandEStop() error
	CommandJog(ctx context.Context, axis rune, mm float64, wait bool) error
}

// Source is the serial link to the pendant.
type Source interface {
	ReadAvailable() ([]byte, error)
}

type Pendant struct {
	ctrl Target
	src  Source
	log  *slog.Logger

	mx      sync.Mutex
	partial []byte
}

// New will create a new pendant that will relay commands read from src to
// the provided controller.
func New(ctrl Target, src Source, log *slog.Logger) *Pendant {
	if log == nil {
		log = slog.Default()
	}
	return &Pendant{ctrl: ctrl, src: src, log: log.With("device", "pendant")}
}

// DataAvailable reads and handles all complete lines from the pendant.
// Errors handling individual lines are logged.
func (p *Pendant) DataAvailable() error {
	p.mx.Lock()
	data, err := p.src.ReadAvailable()
	p.partial = append(p.partial, data...)
	var lines []string
	for {
		i := bytes.IndexByte(p.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(p.partial[:i]))
		p.partial = p.partial[i+1:]
	}
	p.mx.Unlock()

	for _, line := range lines {
		herr := p.HandleLine(line)
		if herr != nil {
			p.log.Error("handle pendant data", "line", line, "err", herr)
		}
	}
	if err != nil {
		return fmt.Errorf("read pendant: %w", err)
	}
	return nil
}

// HandleLine will process a request from the pendant and pass it to the controller.
func (p *Pendant) HandleLine(data string) error {
	data = strings.TrimSpace(data)
	if data == "STOP" {
		return p.ctrl.CommandEStop()
	}

	if !strings.HasPrefix(data, "STEP") {
		return nil
	}

	var axisIndex, mult, step int
	_, err := fmt.Sscanf(data, "STEP:%d,%d,%d", &axisIndex, &mult, &step)
	if err != nil {
		return fmt.Errorf("parse step %q: %w", data, err)
	}

	var axis rune
	switch axisIndex {
	case 1:
		axis = 'X'
	case 2:
		axis = 'Y'
	case 3:
		axis = 'Z'

		// invert Z
		step = -step
	default:
		return nil
	}

	return p.ctrl.CommandJog(context.Background(), axis, float64(step)*float64(mult)/100, false)
}
