package spjs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var (
	ErrPortUnavailable = errors.New("port not available")
	ErrClosed          = errors.New("client closed")
)

type PortOptions struct {
	BaudRate int

	// BufferAlgorithm is the server side buffer, "default" leaves flow
	// control to the caller.
	BufferAlgorithm string
}

// Port is a serial port on the server. It implements the transport needed
// by stream.New.
type Port struct {
	cli   *Client
	match SerialPortMatcher
	opt   PortOptions

	mx     sync.Mutex
	buf    []byte
	notify func()
}

// Connected returns true if the serial port is available and open.
func (p *Port) Connected() bool {
	_, isOpen := p.Name()
	return isOpen
}

// SetNotify sets the function called whenever new data can be read.
func (p *Port) SetNotify(fn func()) {
	p.mx.Lock()
	p.notify = fn
	p.mx.Unlock()
}

// Write sends b to the device as a single sendjson request.
func (p *Port) Write(b []byte) (int, error) {
	portName, isOpen := p.Name()
	if portName == "" {
		return 0, ErrPortUnavailable
	}

	if !isOpen {
		err := p.open(portName)
		if err != nil {
			return 0, err
		}
	}

	data, err := json.Marshal(SendJSON{
		Port: portName,
		Data: []SendJSONData{{
			ID:   p.cli.nextID(),
			Data: string(b),
		}},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal JSON: %w", err)
	}

	_, err = io.WriteString(p.cli, "sendjson "+string(data))
	if err != nil {
		return 0, fmt.Errorf("write to SPJS: %w", err)
	}

	return len(b), nil
}

// ReadAvailable returns the device output received since the last call.
func (p *Port) ReadAvailable() ([]byte, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	data := p.buf
	p.buf = nil
	return data, nil
}

func (p *Port) handleData(d string) {
	if !strings.HasSuffix(d, "\n") {
		d += "\n"
	}
	p.mx.Lock()
	p.buf = append(p.buf, d...)
	notify := p.notify
	p.mx.Unlock()

	if notify != nil {
		notify()
	}
}

func (p *Port) open(name string) error {
	_, err := fmt.Fprintf(p.cli, "open %s %d %s", name, p.opt.BaudRate, p.opt.BufferAlgorithm)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	return nil
}

// Name returns the name of the matched serial port, and if it is open.
func (p *Port) Name() (string, bool) {
	for _, port := range p.cli.SerialPorts() {
		if !p.match(port) {
			continue
		}
		return port.Name, port.IsOpen
	}

	return "", false
}

// Close stops routing data to the port.
func (p *Port) Close() error {
	p.cli.removePort(p)
	return nil
}
