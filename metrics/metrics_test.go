package metrics

import (
	"testing"

	"github.com/mastercactapus/cncstream/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type device struct {
	written []byte
	in      []byte
}

func (d *device) Write(p []byte) (int, error) {
	d.written = append(d.written, p...)
	return len(p), nil
}

func (d *device) ReadAvailable() ([]byte, error) {
	data := d.in
	d.in = nil
	return data, nil
}

func TestCollector(t *testing.T) {
	col := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, col.Register(reg))
	require.NoError(t, col.Register(reg))

	dev := &device{}
	s, err := stream.New(dev, stream.Config{BufferSize: 20}, stream.WithObserver(col))
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(col.capacity))
	col.Bind(s)

	for _, line := range []string{"G0 X1", "G0 X2", "G0 X3", "G0 X4"} {
		require.NoError(t, s.Enqueue(line))
	}
	require.NoError(t, s.Stream())

	// 7 bytes accounted per line
	assert.Equal(t, 2.0, testutil.ToFloat64(col.sent))
	assert.Equal(t, 12.0, testutil.ToFloat64(col.sentBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(col.queued))
	assert.Equal(t, 14.0, testutil.ToFloat64(col.activeBytes))
	assert.Equal(t, 20.0, testutil.ToFloat64(col.capacity))

	dev.in = []byte("ok\nerror:20\n")
	require.NoError(t, s.DataAvailable())
	assert.Equal(t, 1.0, testutil.ToFloat64(col.done.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.done.WithLabelValues("error")))

	s.Pause()
	assert.Equal(t, 1.0, testutil.ToFloat64(col.paused))
	for _, line := range []string{"G0 X5", "G0 X6", "G0 X7"} {
		require.NoError(t, s.Enqueue(line))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(col.queued))
	s.Cancel()
	assert.Equal(t, 0.0, testutil.ToFloat64(col.queued))
	assert.Equal(t, 2.0, testutil.ToFloat64(col.active))

	s.SoftReset()
	assert.Equal(t, 1.0, testutil.ToFloat64(col.resets))
	assert.Equal(t, 2.0, testutil.ToFloat64(col.dropped))
	assert.Equal(t, 0.0, testutil.ToFloat64(col.active))
	assert.Equal(t, 0.0, testutil.ToFloat64(col.activeBytes))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
}
