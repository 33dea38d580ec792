package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ErrInvalidBufferSize is returned by New for a non-positive buffer size.
var ErrInvalidBufferSize = errors.New("device buffer size must be positive")

// Transport is the byte link to the device.
//
// The owner of the transport must call Streamer.DataAvailable whenever new
// inbound bytes can be read.
type Transport interface {
	io.Writer

	// ReadAvailable drains and returns all currently buffered inbound bytes.
	// It must not block waiting for more data.
	ReadAvailable() ([]byte, error)
}

// Config describes the device the Streamer talks to.
type Config struct {
	// BufferSize is the capacity of the device receive buffer in bytes.
	BufferSize int

	// LineTerminator is appended to commands that do not already end with it.
	// DefaultLineTerminator is used if empty.
	LineTerminator string
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option { return func(s *Streamer) { s.log = l } }

// WithRecognizer sets the device response recognizer. OKRecognizer is used otherwise.
func WithRecognizer(r Recognizer) Option { return func(s *Streamer) { s.rec = r } }

// WithObserver adds an observer. It may be given more than once.
func WithObserver(o Observer) Option { return func(s *Streamer) { s.obs = append(s.obs, o) } }

// Streamer feeds queued commands to a device without overflowing its
// receive buffer.
type Streamer struct {
	t   Transport
	cfg Config
	rec Recognizer
	log *slog.Logger
	obs []Observer

	mx      sync.Mutex
	queue   fifo
	active  fifo
	paused  bool
	partial []byte

	// stallLogged is set once the oversized head command was reported.
	stallLogged bool

	// wMx serializes transport writes; always taken after mx when both are held.
	wMx sync.Mutex
}

// New creates a Streamer writing to t.
func New(t Transport, cfg Config, opts ...Option) (*Streamer, error) {
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("new streamer (buffer size %d): %w", cfg.BufferSize, ErrInvalidBufferSize)
	}
	if cfg.LineTerminator == "" {
		cfg.LineTerminator = DefaultLineTerminator
	}

	s := &Streamer{t: t, cfg: cfg, rec: OKRecognizer}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.rec == nil {
		s.rec = OKRecognizer
	}

	return s, nil
}

// Config returns the effective configuration.
func (s *Streamer) Config() Config { return s.cfg }

func (s *Streamer) do(fn func(ev *events) error) error {
	var ev events
	err := func() error {
		s.mx.Lock()
		defer s.mx.Unlock()
		return fn(&ev)
	}()
	ev.dispatch(s.obs)
	return err
}

// Enqueue adds text to the end of the queue and transmits as many queued
// commands as fit into the device buffer.
//
// A line terminator is appended if text does not already end with one. The
// only error returned is a transport write error.
func (s *Streamer) Enqueue(text string) error {
	return s.do(func(ev *events) error {
		s.queue.push(newCommand(text, s.cfg.LineTerminator))
		return s.streamLocked(ev)
	})
}

// Stream transmits as many queued commands as fit into the device buffer.
// It does nothing while paused.
func (s *Streamer) Stream() error { return s.do(s.streamLocked) }

func (s *Streamer) streamLocked(ev *events) error {
	if s.paused {
		return nil
	}

	for s.queue.len() > 0 {
		next := s.queue.peek()
		activeBytes := s.active.size()
		if activeBytes+next.Len()+1 > s.cfg.BufferSize {
			if s.active.len() == 0 && !s.stallLogged {
				s.stallLogged = true
				s.log.Warn("command can never fit into device buffer", "line", next.String(), "bytes", next.Len()+1, "capacity", s.cfg.BufferSize)
			}
			return nil
		}

		err := s.write([]byte(next.Wire()))
		if err != nil {
			return fmt.Errorf("write command %q: %w", next.String(), err)
		}

		s.active.push(s.queue.pop())
		s.stallLogged = false
		st := s.statsLocked()
		s.log.Debug("sent", "line", next.String(), "active_bytes", st.ActiveBytes, "queued", st.Queued)
		ev.add(func(o Observer) { o.CommandSent(next, st) })
	}

	return nil
}

func (s *Streamer) write(p []byte) error {
	s.wMx.Lock()
	defer s.wMx.Unlock()

	n, err := s.t.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return err
}

// DataAvailable reads everything the transport has buffered, retires one
// active command per recognized acknowledgment and then transmits as many
// queued commands as fit into the freed space.
//
// Unrecognized input is not an error. Calling it with nothing to read is a no-op.
func (s *Streamer) DataAvailable() error {
	return s.do(func(ev *events) error {
		data, err := s.t.ReadAvailable()
		if len(data) > 0 {
			s.consumeLocked(data, ev)
		}
		if err != nil {
			return fmt.Errorf("read transport: %w", err)
		}

		return s.streamLocked(ev)
	})
}

func (s *Streamer) consumeLocked(data []byte, ev *events) {
	// an inline reset clears s.partial, lines already read are still handled
	buf := append(s.partial, data...)
	s.partial = nil
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(buf[:i]))
		buf = buf[i+1:]
		if line != "" {
			s.handleLineLocked(line, ev)
		}
	}
	if len(buf) > 0 {
		s.partial = buf
	}
}

func (s *Streamer) handleLineLocked(line string, ev *events) {
	resp, ok := s.rec.Recognize(line)
	if !ok {
		ev.add(func(o Observer) { o.LineReceived(line) })
		return
	}

	if resp.Kind == Reset {
		s.log.Warn("device reset", "line", line)
		s.resetLocked(ev)
		return
	}

	if s.active.len() == 0 {
		s.log.Debug("response without active command", "line", line)
		return
	}

	cmd := s.active.pop()
	st := s.statsLocked()
	if resp.Kind == Error {
		s.log.Warn("command rejected", "line", cmd.String(), "response", line)
	} else {
		s.log.Debug("acknowledged", "line", cmd.String(), "active_bytes", st.ActiveBytes)
	}
	ev.add(func(o Observer) { o.CommandDone(cmd, resp, st) })
}

// SendImmediate writes b to the transport right away, bypassing the queue
// and the buffer accounting. It is meant for realtime control bytes.
func (s *Streamer) SendImmediate(b byte) error {
	err := s.write([]byte{b})
	if err != nil {
		return fmt.Errorf("send immediate %#x: %w", b, err)
	}
	s.log.Debug("sent realtime", "byte", fmt.Sprintf("%#x", b))
	return nil
}

// Pause stops admission of queued commands. Active commands are unaffected.
func (s *Streamer) Pause() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.paused = true
}

// Resume re-enables admission and immediately transmits what fits.
func (s *Streamer) Resume() error {
	return s.do(func(ev *events) error {
		s.paused = false
		return s.streamLocked(ev)
	})
}

// Cancel drops all queued commands. Commands already written stay active
// until they are acknowledged.
func (s *Streamer) Cancel() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.stallLogged = false
	if n := s.queue.clear(); n > 0 {
		s.log.Info("canceled queued commands", "count", n)
	}
}

// SoftReset drops all queued and active commands, e.g. after the device was
// reset. The paused state is not changed.
func (s *Streamer) SoftReset() {
	_ = s.do(func(ev *events) error {
		s.resetLocked(ev)
		return nil
	})
}

func (s *Streamer) resetLocked(ev *events) {
	dropped := s.queue.clear() + s.active.clear()
	s.partial = nil
	s.stallLogged = false
	st := s.statsLocked()
	s.log.Info("stream reset", "dropped", dropped)
	ev.add(func(o Observer) { o.StreamReset(dropped, st) })
}

// Paused reports whether admission is paused.
func (s *Streamer) Paused() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.paused
}

// HasActiveCommands reports whether any written command is still waiting
// for its acknowledgment.
func (s *Streamer) HasActiveCommands() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.active.len() > 0
}

// QueueDepth returns the number of commands not yet written.
func (s *Streamer) QueueDepth() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.queue.len()
}

// Active returns the commands waiting for acknowledgment, oldest first.
func (s *Streamer) Active() []Command {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.active.snapshot()
}

// Stats returns a snapshot of the current state.
func (s *Streamer) Stats() Stats {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.statsLocked()
}

func (s *Streamer) statsLocked() Stats {
	return Stats{
		Queued:      s.queue.len(),
		Active:      s.active.len(),
		ActiveBytes: s.active.size(),
		Capacity:    s.cfg.BufferSize,
		Paused:      s.paused,
	}
}
