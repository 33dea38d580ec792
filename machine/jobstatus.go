package machine

type JobStatus struct {
	Name   string
	Valid  bool
	Active bool

	Read         int
	ReadComplete bool
	Sent         int
	Completed    int
	Done         bool

	Err error
}

// Progress returns the completed fraction of the lines read so far.
func (s JobStatus) Progress() float64 {
	if s.Read == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Read)
}

// publish replaces any unread value in ch with v without blocking.
func publish[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
