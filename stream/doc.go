// Package stream implements character-counting flow control for line based
// motion controllers.
//
// The device acknowledges each line only after it has been consumed from a
// small fixed-size receive buffer. A Streamer keeps a FIFO of pending
// commands and a FIFO of commands that are on the wire but not yet
// acknowledged, and only transmits the next pending command when its
// accounted size still fits into the device buffer.
//
// All state lives behind a single mutex: admission, acknowledgment handling
// and the lifecycle operations (Pause, Resume, Cancel, SoftReset) are each
// atomic with respect to one another.
package stream
