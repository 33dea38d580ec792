package grbl

import (
	"fmt"
	"strings"

	"github.com/mastercactapus/cncstream/machine"
	"github.com/mastercactapus/cncstream/stream"
)

const (
	// RXBufferSize is the usable part of the 128 byte serial receive buffer.
	RXBufferSize = 123

	BaudRate = 115200
)

// Realtime command bytes. They are picked out of the serial stream by the
// firmware and never enter the receive buffer.
const (
	StatusQuery byte = '?'
	FeedHold    byte = '!'
	CycleStart  byte = '~'
	SoftReset   byte = 0x18
)

// Recognizer retires commands on `ok` and `error:N` and treats the startup
// banner as a reset.
var Recognizer stream.Recognizer = stream.RecognizerFunc(recognize)

func recognize(line string) (stream.Response, bool) {
	switch {
	case line == "ok":
		return stream.Response{Kind: stream.Ack, Line: line}, true
	case strings.HasPrefix(line, "error:"):
		return stream.Response{Kind: stream.Error, Line: line}, true
	case strings.HasPrefix(line, "Grbl "):
		return stream.Response{Kind: stream.Reset, Line: line}, true
	}
	return stream.Response{}, false
}

type GRBL struct {
	last    chan lastStatus
	updates chan machine.ControllerStatus
}

type lastStatus struct {
	Status
	valid bool
}

var (
	_ machine.Driver       = &GRBL{}
	_ machine.FeedHolder   = &GRBL{}
	_ machine.CycleStarter = &GRBL{}
	_ machine.Resetter     = &GRBL{}
	_ machine.EStopper     = &GRBL{}
	_ machine.StatusPoller = &GRBL{}
	_ machine.Homer        = &GRBL{}
	_ machine.Jogger       = &GRBL{}
	_ machine.WPosSetter   = &GRBL{}
	_ machine.LineHandler  = &GRBL{}
	_ machine.Statusable   = &GRBL{}
	_ machine.ErrorDecoder = &GRBL{}
)

func New() *GRBL {
	g := &GRBL{
		last:    make(chan lastStatus, 1),
		updates: make(chan machine.ControllerStatus, 1),
	}
	g.last <- lastStatus{}
	return g
}

// Name will always return the string `GRBL`.
func (g *GRBL) Name() string { return "GRBL" }

// BaudRate is always set to 115200.
func (g *GRBL) BaudRate() int { return BaudRate }

func (g *GRBL) BufferSize() int { return RXBufferSize }

func (g *GRBL) Recognizer() stream.Recognizer { return Recognizer }

func (g *GRBL) FeedHold() byte    { return FeedHold }
func (g *GRBL) CycleStart() byte  { return CycleStart }
func (g *GRBL) Reset() byte       { return SoftReset }
func (g *GRBL) EStop() byte       { return SoftReset }
func (g *GRBL) StatusQuery() byte { return StatusQuery }
func (g *GRBL) Home() string      { return "$H" }

func (g *GRBL) Jog(axis rune, mm float64) string {
	return fmt.Sprintf("$J=G21G91F10000%c%0.4g", axis, mm)
}

func (g *GRBL) WPos(axis rune, mm float64) string {
	return fmt.Sprintf("G10L20P1%c%0.4g", axis, mm)
}

func (g *GRBL) DecodeError(line string) error {
	if e, ok := ParseError(line); ok {
		return e
	}
	return &stream.ResponseError{Line: line}
}

// LastStatus returns the most recent status report, if one was received.
func (g *GRBL) LastStatus() (Status, bool) {
	st := <-g.last
	g.last <- st
	return st.Status, st.valid
}

// Status will return a channel that will get updates each time status data
// is updated. It always returns the same channel.
func (g *GRBL) Status() <-chan machine.ControllerStatus { return g.updates }

// HandleLine processes non-acknowledgment output from GRBL. Only status
// reports are interpreted.
func (g *GRBL) HandleLine(line string) error {
	if !strings.HasPrefix(line, "<") {
		return nil
	}

	st := <-g.last
	next := st.Status
	err := next.Parse(line)
	if err != nil {
		g.last <- st
		return err
	}
	g.last <- lastStatus{Status: next, valid: true}

	for {
		select {
		case g.updates <- next:
			return nil
		default:
		}
		select {
		case <-g.updates:
		default:
		}
	}
}
