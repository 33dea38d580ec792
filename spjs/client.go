// Package spjs connects to serial ports shared by a Serial Port JSON Server
// over its websocket API.
package spjs

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"
)

// DialFunc opens the raw message connection to the server. Every Read must
// return a single message.
type DialFunc func(url string) (io.ReadWriteCloser, error)

type Options struct {
	Logger *slog.Logger
	Dial   DialFunc

	// ListInterval is how often the port list is refreshed.
	ListInterval time.Duration

	// CheckInterval is how often a lost connection is re-established.
	CheckInterval time.Duration
}

type Client struct {
	baseID string
	id     atomic.Uint32

	url  string
	dial DialFunc
	log  *slog.Logger

	ws io.ReadWriteCloser
	mx sync.Mutex

	ports       chan []*Port
	serialPorts chan []SerialPort
	dataCh      chan string

	closeOnce sync.Once
	doneCh    chan struct{}
}

func websocketDial(url string) (io.ReadWriteCloser, error) {
	return websocket.Dial(url, "", "http://localhost")
}

// NewClient will create a new client for the server at url. Connecting
// happens in the background and on the first write.
func NewClient(url string, opt Options) *Client {
	buf := make([]byte, 8)
	_, err := io.ReadFull(rand.Reader, buf)
	if err != nil {
		panic(err)
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Dial == nil {
		opt.Dial = websocketDial
	}
	if opt.ListInterval == 0 {
		opt.ListInterval = 10 * time.Second
	}
	if opt.CheckInterval == 0 {
		opt.CheckInterval = time.Second
	}

	cli := &Client{
		baseID:      base64.RawURLEncoding.EncodeToString(buf),
		url:         url,
		dial:        opt.Dial,
		log:         opt.Logger.With("spjs", url),
		serialPorts: make(chan []SerialPort, 1),
		dataCh:      make(chan string),
		ports:       make(chan []*Port, 1),
		doneCh:      make(chan struct{}),
	}

	cli.serialPorts <- nil
	cli.ports <- nil

	go cli.every(opt.ListInterval, func() {
		_, err := io.WriteString(cli, "list")
		if err != nil {
			cli.log.Warn("refresh port list", "err", err)
		}
	})
	go cli.every(opt.CheckInterval, func() {
		err := cli.Check()
		if err != nil {
			cli.log.Warn("connect", "err", err)
		}
	})

	go cli.readLoop()

	return cli
}

func (c *Client) every(d time.Duration, fn func()) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-c.doneCh:
			return
		case <-t.C:
			fn()
		}
	}
}

// NewPort registers a port that will be opened on the first serial port
// accepted by match.
func (c *Client) NewPort(match SerialPortMatcher, opt PortOptions) *Port {
	if opt.BufferAlgorithm == "" {
		opt.BufferAlgorithm = "default"
	}
	p := &Port{match: match, cli: c, opt: opt}
	c.ports <- append(<-c.ports, p)
	_, err := io.WriteString(c, "list")
	if err != nil {
		c.log.Warn("refresh port list", "err", err)
	}
	c.log.Info("registered port", "baud", opt.BaudRate)
	return p
}

func (c *Client) removePort(p *Port) {
	ports := <-c.ports
	for i, port := range ports {
		if port == p {
			ports = append(ports[:i:i], ports[i+1:]...)
			break
		}
	}
	c.ports <- ports
}

func (c *Client) nextID() string {
	return fmt.Sprintf("%s-%d", c.baseID, c.id.Add(1))
}

func (c *Client) reconnect() error {
	if c.ws != nil {
		c.cleanup()
	}

	select {
	case <-c.doneCh:
		return ErrClosed
	default:
	}

	c.log.Info("connecting")
	ws, err := c.dial(c.url)
	if err != nil {
		return fmt.Errorf("dial SPJS: %w", err)
	}

	_, err = io.WriteString(ws, "list")
	if err != nil {
		ws.Close()
		return fmt.Errorf("write SPJS (list): %w", err)
	}

	c.ws = ws
	go c.recvLoop(ws)

	return nil
}

// cleanup forgets the current connection. It must be called with c.mx held.
func (c *Client) cleanup() {
	<-c.serialPorts
	c.serialPorts <- nil
	c.ws.Close()
	c.ws = nil
}

func (c *Client) recvLoop(ws io.ReadWriteCloser) {
	buf := make([]byte, 65536)
	for {
		n, err := ws.Read(buf)
		if err != nil {
			c.log.Warn("read SPJS", "err", err)
			break
		}

		select {
		case c.dataCh <- string(buf[:n]):
		case <-c.doneCh:
			return
		}
	}

	c.mx.Lock()
	if c.ws == ws {
		c.cleanup()
	}
	c.mx.Unlock()
}

// Check will connect to the server if there is no active connection.
func (c *Client) Check() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.ws == nil {
		return c.reconnect()
	}

	return nil
}

// Write will write to the active ws stream, reconnecting on error.
func (c *Client) Write(p []byte) (int, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	return c.write(p, true)
}

func (c *Client) write(p []byte, retry bool) (int, error) {
	if c.ws == nil {
		err := c.reconnect()
		if err != nil {
			return 0, err
		}
	}

	c.log.Debug("write", "data", string(p))
	n, err := c.ws.Write(p)
	if err != nil {
		if !retry {
			return 0, fmt.Errorf("write SPJS: %w", err)
		}
		c.log.Warn("write SPJS (will reconnect)", "err", err)
		err = c.reconnect()
		if err != nil {
			return 0, err
		}
		return c.write(p, false)
	}

	return n, nil
}

// Close disconnects from the server. Registered ports become unavailable.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.doneCh) })

	c.mx.Lock()
	defer c.mx.Unlock()
	if c.ws != nil {
		c.cleanup()
	}
	return nil
}

// WaitForPort blocks until a port accepted by match is listed.
func (c *Client) WaitForPort(ctx context.Context, match SerialPortMatcher) (SerialPort, error) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		for _, sp := range c.SerialPorts() {
			if match(sp) {
				return sp, nil
			}
		}
		select {
		case <-ctx.Done():
			return SerialPort{}, ctx.Err()
		case <-c.doneCh:
			return SerialPort{}, ErrClosed
		case <-t.C:
		}
	}
}

// SerialPorts returns the most recent port list.
func (c *Client) SerialPorts() []SerialPort {
	ports := <-c.serialPorts
	c.serialPorts <- ports
	return ports
}
