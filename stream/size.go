package stream

// BufferSize returns the number of device buffer bytes the commands are
// accounted for.
//
// Every command counts one byte more than it puts on the wire.
func BufferSize(cmds []Command) int {
	var n int
	for _, c := range cmds {
		n += c.Len() + 1
	}
	return n
}
