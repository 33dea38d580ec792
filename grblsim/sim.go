// Package grblsim is an in-process stand-in for a GRBL controller.
//
// It enforces a fixed receive buffer so tests can tell whether a sender ever
// overran the device. Lines are only consumed when Step is called, or
// periodically by Run.
package grblsim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/256dpi/gcode"
)

const Banner = "Grbl 1.1h ['$' for help]"

type Sim struct {
	capacity int

	mx       sync.Mutex
	rx       []byte
	out      bytes.Buffer
	history  []string
	overflow int
	maxUsed  int
	hold     bool
	pos      [3]float64
	notify   func()
	closed   bool
}

// New returns a simulator with a receive buffer of capacity bytes.
func New(capacity int) *Sim {
	return &Sim{capacity: capacity}
}

// SetNotify sets the function called after new output is available.
func (s *Sim) SetNotify(fn func()) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.notify = fn
}

// Write feeds bytes to the simulator. Realtime bytes are handled right away,
// their output is announced on the next Step.
func (s *Sim) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}

	for _, b := range p {
		switch b {
		case '?':
			s.statusReport()
		case '!':
			s.hold = true
		case '~':
			s.hold = false
		case 0x18:
			s.reset()
		default:
			if len(s.rx) >= s.capacity {
				s.overflow++
				continue
			}
			s.rx = append(s.rx, b)
			s.maxUsed = max(s.maxUsed, len(s.rx))
		}
	}
	return len(p), nil
}

// ReadAvailable drains all pending output.
func (s *Sim) ReadAvailable() ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.out.Len() == 0 {
		return nil, nil
	}
	data := bytes.Clone(s.out.Bytes())
	s.out.Reset()
	return data, nil
}

// Step processes up to n complete lines from the receive buffer and returns
// how many were processed. Nothing is processed during a feed hold.
//
// The notify function is called afterwards if there is output to read.
func (s *Sim) Step(n int) int {
	s.mx.Lock()
	var done int
	for done < n && !s.hold {
		i := bytes.IndexByte(s.rx, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(s.rx[:i]))
		s.rx = s.rx[i+1:]
		s.processLine(line)
		done++
	}
	var fn func()
	if s.out.Len() > 0 {
		fn = s.notify
	}
	s.mx.Unlock()

	if fn != nil {
		fn()
	}
	return done
}

// Run processes one line every interval until ctx is done.
func (s *Sim) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Step(1)
		}
	}
}

func (s *Sim) processLine(line string) {
	s.history = append(s.history, line)
	switch {
	case line == "":
		s.reply("ok")
	case line == "$G":
		s.reply("[GC:G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0]")
		s.reply("ok")
	case line == "$$", line == "$H", line == "$X", strings.HasPrefix(line, "$J="):
		s.reply("ok")
	case strings.HasPrefix(line, "$"):
		s.reply("error:3")
	default:
		s.reply(s.gcode(line))
	}
}

func (s *Sim) gcode(line string) string {
	l, err := gcode.ParseLine(splitWords(line))
	if err != nil {
		return "error:2"
	}

	motion := -1
	pos := s.pos
	for _, code := range l.Codes {
		switch code.Letter {
		case "G":
			motion = int(code.Value)
		case "X":
			pos[0] = code.Value
		case "Y":
			pos[1] = code.Value
		case "Z":
			pos[2] = code.Value
		}
	}
	if motion >= 0 && motion <= 3 {
		s.pos = pos
	}
	return "ok"
}

// splitWords separates words written without spaces, e.g. G10L20P1Z0,
// which GRBL accepts. Comments are left alone.
func splitWords(line string) string {
	var b strings.Builder
	var depth int
	for i, r := range line {
		switch {
		case r == ';' && depth == 0:
			b.WriteString(line[i:])
			return b.String()
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0 && i > 0 && isLetter(r) && line[i-1] != ' ':
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isLetter(r rune) bool { return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') }

func (s *Sim) statusReport() {
	state := "Idle"
	switch {
	case s.hold:
		state = "Hold:0"
	case bytes.IndexByte(s.rx, '\n') >= 0:
		state = "Run"
	}
	s.reply(fmt.Sprintf("<%s|MPos:%.3f,%.3f,%.3f|Bf:15,%d|FS:0,0>", state, s.pos[0], s.pos[1], s.pos[2], s.capacity-len(s.rx)))
}

func (s *Sim) reset() {
	s.rx = nil
	s.hold = false
	s.out.WriteString("\r\n" + Banner + "\r\n")
}

func (s *Sim) reply(line string) { s.out.WriteString(line + "\r\n") }

// History returns every line processed so far.
func (s *Sim) History() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.history...)
}

// Overflow returns how many bytes were dropped because the receive buffer was full.
func (s *Sim) Overflow() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.overflow
}

// MaxUsed returns the highest receive buffer fill level seen.
func (s *Sim) MaxUsed() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.maxUsed
}

// Buffered returns the number of bytes waiting in the receive buffer.
func (s *Sim) Buffered() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.rx)
}

func (s *Sim) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.closed = true
	return nil
}
