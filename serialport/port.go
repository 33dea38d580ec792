// Package serialport provides a local serial link usable as a stream transport.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/armon/circbuf"
	"go.bug.st/serial"
)

const (
	consoleSize = 16 * 1024
	readSize    = 256
)

var ErrClosed = errors.New("serial port closed")

type Options struct {
	Logger *slog.Logger

	// ConsoleSize is the number of inbound bytes kept for Console.
	ConsoleSize int64
}

// Port buffers everything read from the underlying device until it is
// collected with ReadAvailable.
type Port struct {
	rwc io.ReadWriteCloser
	log *slog.Logger

	mx      sync.Mutex
	buf     []byte
	console *circbuf.Buffer
	readErr error
	notify  func()

	closeOnce sync.Once
	doneCh    chan struct{}
}

// Open will open the named serial device with 8N1 framing.
func Open(name string, baud int, opt Options) (*Port, error) {
	sp, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	opt.Logger = opt.Logger.With("port", name)
	p, err := New(sp, opt)
	if err != nil {
		sp.Close()
		return nil, err
	}
	return p, nil
}

// New starts reading from rwc in the background.
func New(rwc io.ReadWriteCloser, opt Options) (*Port, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.ConsoleSize == 0 {
		opt.ConsoleSize = consoleSize
	}
	console, err := circbuf.NewBuffer(opt.ConsoleSize)
	if err != nil {
		return nil, fmt.Errorf("console buffer: %w", err)
	}

	p := &Port{
		rwc:     rwc,
		log:     opt.Logger,
		console: console,
		doneCh:  make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// SetNotify sets the function called whenever new data can be read.
// It is called from the read goroutine.
func (p *Port) SetNotify(fn func()) {
	p.mx.Lock()
	p.notify = fn
	p.mx.Unlock()
}

func (p *Port) readLoop() {
	defer close(p.doneCh)
	buf := make([]byte, readSize)
	for {
		n, err := p.rwc.Read(buf)
		p.mx.Lock()
		if n > 0 {
			p.buf = append(p.buf, buf[:n]...)
			p.console.Write(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrClosed
			}
			p.readErr = err
		}
		notify := p.notify
		p.mx.Unlock()

		if notify != nil && (n > 0 || err != nil) {
			notify()
		}
		if err != nil {
			p.log.Debug("serial read loop stopped", "err", err)
			return
		}
	}
}

// ReadAvailable returns all bytes received since the last call. Once the
// buffer is drained the read error, if any, is returned.
func (p *Port) ReadAvailable() ([]byte, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if len(p.buf) == 0 {
		return nil, p.readErr
	}
	data := p.buf
	p.buf = nil
	return data, nil
}

func (p *Port) Write(b []byte) (int, error) {
	select {
	case <-p.doneCh:
		return 0, ErrClosed
	default:
	}
	return p.rwc.Write(b)
}

// Console returns the most recent inbound bytes.
func (p *Port) Console() string {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.console.String()
}

// Done is closed once the port stops reading.
func (p *Port) Done() <-chan struct{} { return p.doneCh }

func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.rwc.Close()
	})
	<-p.doneCh
	return err
}
