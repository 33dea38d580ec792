package stream

// fifo is an ordered list of commands used for both the pending queue and
// the active ledger.
type fifo struct {
	items []Command
}

func (f *fifo) push(c Command) { f.items = append(f.items, c) }

func (f *fifo) len() int { return len(f.items) }

func (f *fifo) peek() Command { return f.items[0] }

func (f *fifo) pop() Command {
	c := f.items[0]
	f.items[0] = Command{}
	f.items = f.items[1:]
	return c
}

// clear drops all entries and returns how many were dropped.
func (f *fifo) clear() int {
	n := len(f.items)
	f.items = nil
	return n
}

func (f *fifo) snapshot() []Command { return append([]Command(nil), f.items...) }

// size returns the device buffer bytes accounted for the entries.
func (f *fifo) size() int { return BufferSize(f.items) }
