package stream

import "strings"

// DefaultLineTerminator is used when a Config does not specify one.
const DefaultLineTerminator = "\n"

// Command is a single line queued for the device.
//
// It is immutable once created.
type Command struct {
	raw  string
	wire string
}

func newCommand(text, terminator string) Command {
	wire := text
	if !strings.HasSuffix(text, terminator) {
		wire += terminator
	}
	return Command{raw: text, wire: wire}
}

// Raw returns the text as it was supplied to Enqueue.
func (c Command) Raw() string { return c.raw }

// Wire returns the text as written to the transport, including the terminator.
func (c Command) Wire() string { return c.wire }

// Len returns the number of bytes written to the transport.
func (c Command) Len() int { return len(c.wire) }

// String returns the wire text without its trailing line break.
func (c Command) String() string { return strings.TrimRight(c.wire, "\r\n") }
