package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mastercactapus/cncstream/stream"
)

// ErrReset is reported to a running job when the controller is reset.
var ErrReset = errors.New("controller reset")

type Options struct {
	Logger *slog.Logger

	// BufferSize overrides the driver buffer size if set.
	BufferSize     int
	LineTerminator string

	// Observers are notified about streaming events in addition to the controller.
	Observers []stream.Observer
}

// Controller drives a single machine through a Streamer.
type Controller struct {
	*stream.Streamer

	drv Driver
	log *slog.Logger

	mx        sync.Mutex
	job       *Job
	jobStatus chan JobStatus

	nMx      sync.Mutex
	notifyCh chan struct{}
	errSeq   uint64
	lastErr  error
}

// NewController creates a controller streaming to t using the dialect of drv.
//
// The owner of t must call DataAvailable on the controller whenever t has
// new inbound data.
func NewController(t stream.Transport, drv Driver, opt Options) (*Controller, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	c := &Controller{
		drv:       drv,
		log:       opt.Logger.With("driver", drv.Name()),
		jobStatus: make(chan JobStatus, 1),
		notifyCh:  make(chan struct{}),
	}

	size := opt.BufferSize
	if size == 0 {
		size = drv.BufferSize()
	}
	streamOpts := []stream.Option{
		stream.WithLogger(c.log),
		stream.WithRecognizer(drv.Recognizer()),
		stream.WithObserver(controllerObserver{c}),
	}
	for _, o := range opt.Observers {
		streamOpts = append(streamOpts, stream.WithObserver(o))
	}

	var err error
	c.Streamer, err = stream.New(t, stream.Config{BufferSize: size, LineTerminator: opt.LineTerminator}, streamOpts...)
	if err != nil {
		return nil, fmt.Errorf("new controller (%s): %w", drv.Name(), err)
	}

	return c, nil
}

// Driver returns the firmware dialect.
func (c *Controller) Driver() Driver { return c.drv }

// SetJob loads a new job, closing any previous one. The job does not start
// until StartJob is called.
func (c *Controller) SetJob(name string, r io.Reader) {
	c.closeJob()

	job := newJob(context.Background(), c, name, r)
	c.mx.Lock()
	c.job = job
	c.mx.Unlock()
}

// closeJob detaches and closes the current job. The lock is not held while
// closing since the job goroutines report back through the observer.
func (c *Controller) closeJob() bool {
	c.mx.Lock()
	job := c.job
	c.job = nil
	c.mx.Unlock()

	if job == nil {
		return false
	}
	job.Close()
	return true
}

func (c *Controller) JobStatus() <-chan JobStatus { return c.jobStatus }

func (c *Controller) StartJob() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.job == nil {
		return ErrNoJob
	}

	return c.job.Start()
}

// Job returns the loaded job or nil.
func (c *Controller) Job() *Job { return c.currentJob() }

func (c *Controller) currentJob() *Job {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.job
}

// Status returns status updates if the driver supports them, nil otherwise.
func (c *Controller) Status() <-chan ControllerStatus {
	s, ok := c.drv.(Statusable)
	if !ok {
		return nil
	}

	return s.Status()
}

// CommandFeedHold stops the machine and pauses streaming.
func (c *Controller) CommandFeedHold() error {
	f, ok := c.drv.(FeedHolder)
	if !ok {
		return ErrUnsupportedByDriver
	}

	c.Pause()
	return c.SendImmediate(f.FeedHold())
}

// CommandCycleStart continues after a feed hold and resumes streaming.
func (c *Controller) CommandCycleStart() error {
	s, ok := c.drv.(CycleStarter)
	if !ok {
		return ErrUnsupportedByDriver
	}

	err := c.SendImmediate(s.CycleStart())
	if err != nil {
		return err
	}
	return c.Resume()
}

// CommandReset resets the firmware, aborting the current job and dropping
// all pending and active commands.
func (c *Controller) CommandReset() error {
	r, ok := c.drv.(Resetter)
	if !ok {
		return ErrUnsupportedByDriver
	}
	return c.reset(r.Reset())
}

func (c *Controller) CommandEStop() error {
	s, ok := c.drv.(EStopper)
	if !ok {
		return ErrUnsupportedByDriver
	}
	return c.reset(s.EStop())
}

func (c *Controller) reset(b byte) error {
	if c.closeJob() {
		publish(c.jobStatus, JobStatus{})
	}

	c.Cancel()
	err := c.SendImmediate(b)
	c.SoftReset()
	return err
}

func (c *Controller) CommandHome(ctx context.Context, wait bool) error {
	h, ok := c.drv.(Homer)
	if !ok {
		return ErrUnsupportedByDriver
	}
	return c.send(ctx, h.Home(), wait)
}

// CommandJog queues a jog move.
func (c *Controller) CommandJog(ctx context.Context, axis rune, mm float64, wait bool) error {
	j, ok := c.drv.(Jogger)
	if !ok {
		return ErrUnsupportedByDriver
	}
	return c.send(ctx, j.Jog(axis, mm), wait)
}

// SetWPos will set the work coordinate to the provided value.
func (c *Controller) SetWPos(ctx context.Context, axis rune, mm float64) error {
	w, ok := c.drv.(WPosSetter)
	if !ok {
		return ErrUnsupportedByDriver
	}
	return c.send(ctx, w.WPos(axis, mm), true)
}

func (c *Controller) send(ctx context.Context, line string, wait bool) error {
	if !wait {
		return c.Enqueue(line)
	}
	return c.Run(ctx, line)
}

// Run queues the lines and waits until the machine has acknowledged every
// command. It returns the first firmware error reported while waiting.
func (c *Controller) Run(ctx context.Context, lines ...string) error {
	c.nMx.Lock()
	seq := c.errSeq
	c.nMx.Unlock()

	for _, line := range lines {
		err := c.Enqueue(line)
		if err != nil {
			return err
		}
	}

	err := c.WaitIdle(ctx)
	if err != nil {
		return err
	}

	c.nMx.Lock()
	defer c.nMx.Unlock()
	if c.errSeq != seq {
		return c.lastErr
	}
	return nil
}

// WaitIdle blocks until no command is queued or waiting for acknowledgment.
func (c *Controller) WaitIdle(ctx context.Context) error {
	for {
		ch := c.changed()
		st := c.Stats()
		if st.Queued == 0 && st.Active == 0 {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Poll sends the status query byte every interval until ctx is done.
func (c *Controller) Poll(ctx context.Context, interval time.Duration) error {
	p, ok := c.drv.(StatusPoller)
	if !ok {
		return ErrUnsupportedByDriver
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		err := c.SendImmediate(p.StatusQuery())
		if err != nil {
			c.log.Error("poll status", "err", err)
		}
	}
}

func (c *Controller) changed() <-chan struct{} {
	c.nMx.Lock()
	defer c.nMx.Unlock()
	return c.notifyCh
}

func (c *Controller) broadcast(err error) {
	c.nMx.Lock()
	defer c.nMx.Unlock()
	if err != nil {
		c.errSeq++
		c.lastErr = err
	}
	close(c.notifyCh)
	c.notifyCh = make(chan struct{})
}

func (c *Controller) decodeError(resp stream.Response) error {
	if d, ok := c.drv.(ErrorDecoder); ok {
		return d.DecodeError(resp.Line)
	}
	return resp.Err()
}

// controllerObserver keeps the observer methods off the Controller API.
type controllerObserver struct{ c *Controller }

var _ stream.Observer = controllerObserver{}

func (o controllerObserver) CommandSent(stream.Command, stream.Stats) {
	if job := o.c.currentJob(); job != nil {
		job.commandSent()
	}
	o.c.broadcast(nil)
}

func (o controllerObserver) CommandDone(cmd stream.Command, resp stream.Response, _ stream.Stats) {
	var err error
	if resp.Kind == stream.Error {
		err = fmt.Errorf("%s: %w", cmd, o.c.decodeError(resp))
	}
	if job := o.c.currentJob(); job != nil {
		job.commandDone(err)
	}
	o.c.broadcast(err)
}

func (o controllerObserver) LineReceived(line string) {
	h, ok := o.c.drv.(LineHandler)
	if !ok {
		return
	}
	err := h.HandleLine(line)
	if err != nil {
		o.c.log.Error("handle line", "line", line, "err", err)
	}
}

func (o controllerObserver) StreamReset(int, stream.Stats) {
	if job := o.c.currentJob(); job != nil && job.Status().Active {
		job.failWith(ErrReset)
	}
	o.c.broadcast(nil)
}
