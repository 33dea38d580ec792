// Package metrics exports streaming state as Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mastercactapus/cncstream/stream"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cncstream"

// StatsSource reports the current streaming state, e.g. a *stream.Streamer.
type StatsSource interface {
	Stats() stream.Stats
}

// Collector is a stream.Observer that records streaming activity. The state
// gauges read the bound StatsSource when scraped.
type Collector struct {
	mx  sync.Mutex
	src StatsSource

	queued      prometheus.GaugeFunc
	active      prometheus.GaugeFunc
	activeBytes prometheus.GaugeFunc
	capacity    prometheus.GaugeFunc
	paused      prometheus.GaugeFunc

	sent      prometheus.Counter
	sentBytes prometheus.Counter
	done      *prometheus.CounterVec
	resets    prometheus.Counter
	dropped   prometheus.Counter
}

var _ stream.Observer = &Collector{}

func New() *Collector {
	c := &Collector{}
	gauge := func(name, help string, value func(stream.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(c.stats())) })
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      name,
			Help:      help,
		})
	}

	c.queued = gauge("queued_commands", "Commands waiting to be sent", func(st stream.Stats) int { return st.Queued })
	c.active = gauge("active_commands", "Commands sent and not yet acknowledged", func(st stream.Stats) int { return st.Active })
	c.activeBytes = gauge("active_bytes", "Device receive buffer bytes in use", func(st stream.Stats) int { return st.ActiveBytes })
	c.capacity = gauge("capacity_bytes", "Device receive buffer size", func(st stream.Stats) int { return st.Capacity })
	c.paused = gauge("paused", "Streaming state (1=paused, 0=running)", func(st stream.Stats) int {
		if st.Paused {
			return 1
		}
		return 0
	})

	c.sent = counter("commands_sent_total", "Total commands written to the device")
	c.sentBytes = counter("sent_bytes_total", "Total command bytes written to the device")
	c.done = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "commands_done_total",
		Help:      "Total commands retired by a device response",
	}, []string{"result"})
	c.resets = counter("resets_total", "Total soft resets")
	c.dropped = counter("dropped_commands_total", "Total commands discarded by a soft reset")

	return c
}

// Bind sets the source read by the state gauges. They report zero until
// a source is bound.
func (c *Collector) Bind(src StatsSource) {
	c.mx.Lock()
	c.src = src
	c.mx.Unlock()
}

func (c *Collector) stats() stream.Stats {
	c.mx.Lock()
	src := c.src
	c.mx.Unlock()
	if src == nil {
		return stream.Stats{}
	}
	return src.Stats()
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.queued, c.active, c.activeBytes, c.capacity, c.paused,
		c.sent, c.sentBytes, c.done, c.resets, c.dropped,
	}
}

// Register adds all metrics to reg. Metrics that are already registered are
// left alone.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range c.collectors() {
		err := reg.Register(col)
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			continue
		}
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

func (c *Collector) CommandSent(cmd stream.Command, _ stream.Stats) {
	c.sent.Inc()
	c.sentBytes.Add(float64(cmd.Len()))
}

func (c *Collector) CommandDone(_ stream.Command, resp stream.Response, _ stream.Stats) {
	result := "ok"
	if resp.Kind == stream.Error {
		result = "error"
	}
	c.done.WithLabelValues(result).Inc()
}

func (c *Collector) LineReceived(string) {}

func (c *Collector) StreamReset(dropped int, _ stream.Stats) {
	c.resets.Inc()
	c.dropped.Add(float64(dropped))
}
