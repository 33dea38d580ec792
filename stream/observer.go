package stream

// Stats is a snapshot of the streaming state.
type Stats struct {
	Queued      int
	Active      int
	ActiveBytes int
	Capacity    int
	Paused      bool
}

// Free returns the number of device buffer bytes not currently accounted for.
func (s Stats) Free() int { return s.Capacity - s.ActiveBytes }

// Observer is notified about streaming events.
//
// Events are collected while the Streamer is locked and delivered after it
// has been unlocked, so an Observer may call back into the Streamer.
type Observer interface {
	// CommandSent is called after a command was written to the transport.
	CommandSent(cmd Command, st Stats)

	// CommandDone is called after an acknowledgment retired cmd.
	CommandDone(cmd Command, resp Response, st Stats)

	// LineReceived is called for every inbound line that is not a recognized response.
	LineReceived(line string)

	// StreamReset is called after queued and active commands were dropped.
	StreamReset(dropped int, st Stats)
}

// NopObserver implements Observer by doing nothing. Embed it to implement
// only some of the methods.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) CommandSent(Command, Stats)           {}
func (NopObserver) CommandDone(Command, Response, Stats) {}
func (NopObserver) LineReceived(string)                  {}
func (NopObserver) StreamReset(int, Stats)               {}

type events []func(Observer)

func (ev *events) add(fn func(Observer)) { *ev = append(*ev, fn) }

func (ev events) dispatch(obs []Observer) {
	for _, fn := range ev {
		for _, o := range obs {
			fn(o)
		}
	}
}
