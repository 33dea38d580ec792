package serialport

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeDevice struct {
	*io.PipeReader
	*io.PipeWriter
}

func (d pipeDevice) Close() error {
	d.PipeReader.Close()
	return d.PipeWriter.Close()
}

// newPipePort returns a port plus the device side of its pipes.
func newPipePort(t *testing.T) (*Port, *io.PipeWriter, *io.PipeReader) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	p, err := New(pipeDevice{inR, outW}, Options{ConsoleSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, inW, outR
}

func TestPort_ReadAvailable(t *testing.T) {
	p, dev, _ := newPipePort(t)

	var notified atomic.Int32
	p.SetNotify(func() { notified.Add(1) })

	data, err := p.ReadAvailable()
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = io.WriteString(dev, "ok\r\nGrbl 1.1h\r\n")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return notified.Load() > 0 }, time.Second, time.Millisecond)
	var got []byte
	assert.Eventually(t, func() bool {
		d, _ := p.ReadAvailable()
		got = append(got, d...)
		return len(got) == 15
	}, time.Second, time.Millisecond)
	assert.Equal(t, "ok\r\nGrbl 1.1h\r\n", string(got))
	assert.Equal(t, "1.1h\r\n", p.Console()[2:])
	assert.Len(t, p.Console(), 8)

	dev.Close()
	<-p.Done()
	_, err = p.ReadAvailable()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = p.Write([]byte("?"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPort_Write(t *testing.T) {
	p, _, dev := newPipePort(t)

	go func() {
		_, _ = p.Write([]byte("G0 X1\n"))
	}()
	buf := make([]byte, 16)
	n, err := dev.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "G0 X1\n", string(buf[:n]))
}

func TestMatchers(t *testing.T) {
	ports := []Info{
		{Name: "/dev/ttyUSB0", VID: "1a86", PID: "7523"},
		{Name: "/dev/ttyACM0", VID: "2341", PID: "0043"},
	}

	name, ok := first(ports, MatchVIDPID("2341", "0043"))
	assert.True(t, ok)
	assert.Equal(t, "/dev/ttyACM0", name)

	name, ok = first(ports, MatchVIDPID("1A86", "7523"))
	assert.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", name)

	_, ok = first(ports, MatchVIDPID("0000", "7523"))
	assert.False(t, ok)

	name, ok = first(ports, MatchName("/dev/ttyUSB0"))
	assert.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", name)
}
