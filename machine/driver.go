package machine

import (
	"errors"

	"github.com/mastercactapus/cncstream/stream"
)

// ErrUnsupportedByDriver is returned when the driver lacks the requested capability.
var ErrUnsupportedByDriver = errors.New("unsupported by driver")

// Driver describes a controller firmware dialect.
type Driver interface {
	Name() string
	BaudRate() int

	// BufferSize is the size of the firmware receive buffer in bytes.
	BufferSize() int

	// Recognizer picks acknowledgments out of the firmware output.
	Recognizer() stream.Recognizer
}

type FeedHolder interface{ FeedHold() byte }
type CycleStarter interface{ CycleStart() byte }
type Resetter interface{ Reset() byte }
type EStopper interface{ EStop() byte }
type StatusPoller interface{ StatusQuery() byte }

type Homer interface{ Home() string }
type Jogger interface {
	Jog(axis rune, mm float64) string
}
type WPosSetter interface {
	WPos(axis rune, mm float64) string
}

// LineHandler receives every firmware line that is not an acknowledgment.
type LineHandler interface {
	HandleLine(line string) error
}

// Statusable drivers publish parsed status reports.
type Statusable interface {
	Status() <-chan ControllerStatus
}

// ErrorDecoder turns a rejected command response into a descriptive error.
type ErrorDecoder interface {
	DecodeError(line string) error
}

type ControllerStatus interface {
	MachinePosition() Position
	WorkPosition() Position

	StatusText() string

	IsReady() bool
	IsAlarm() bool
}

type Position struct{ X, Y, Z float64 }
