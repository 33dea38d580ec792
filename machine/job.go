package machine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

const (
	// jobQueueLines is the max number of job commands waiting in the stream queue.
	jobQueueLines = 100

	// jobLinesBuffer is the max number of lines read ahead from the job source.
	jobLinesBuffer = 100000
)

var (
	ErrNoJob      = errors.New("no loaded job")
	ErrJobStarted = errors.New("job already started")
)

// Job streams the lines of a G-code program to a Controller.
type Job struct {
	ctrl *Controller

	ctx      context.Context
	cancelFn func()

	lines chan string

	statusCh chan JobStatus

	wg sync.WaitGroup
}

func newJob(ctx context.Context, ctrl *Controller, name string, r io.Reader) *Job {
	j := &Job{
		ctrl:     ctrl,
		statusCh: make(chan JobStatus, 1),
		lines:    make(chan string, jobLinesBuffer),
	}
	j.statusCh <- JobStatus{Valid: true, Name: name}
	j.ctx, j.cancelFn = context.WithCancel(ctx)
	publish(ctrl.jobStatus, JobStatus{Valid: true, Name: name})

	j.wg.Add(1)
	closer, _ := r.(io.Closer)
	go j.readLoop(bufio.NewScanner(r), closer)

	return j
}

// updateStatus applies update unless the job has already failed.
func (j *Job) updateStatus(update func(s *JobStatus)) JobStatus {
	stat := <-j.statusCh
	if stat.Err == nil {
		update(&stat)
		publish(j.ctrl.jobStatus, stat)
	}

	j.statusCh <- stat
	return stat
}

func (j *Job) Status() JobStatus {
	stat := <-j.statusCh
	j.statusCh <- stat
	return stat
}

func (j *Job) failWith(err error) {
	var wasActive bool
	j.updateStatus(func(s *JobStatus) {
		wasActive = s.Active
		s.Active = false
		s.Err = err
	})
	j.cancelFn()
	if wasActive {
		j.ctrl.Cancel()
	}
}

func (j *Job) readLoop(scan *bufio.Scanner, c io.Closer) {
	defer j.wg.Done()
	defer close(j.lines)
	if c != nil {
		defer c.Close()
	}

	for scan.Scan() {
		text := strings.TrimSpace(scan.Text())
		if strings.HasPrefix(text, ";") || text == "" {
			continue
		}

		j.updateStatus(func(s *JobStatus) { s.Read++ })
		select {
		case j.lines <- text:
		case <-j.ctx.Done():
			return
		}
	}

	if scan.Err() != nil {
		j.failWith(scan.Err())
		return
	}
	j.updateStatus(func(s *JobStatus) { s.ReadComplete = true })
}

// Start begins streaming the job.
func (j *Job) Start() error {
	var wasStarted bool
	stat := j.updateStatus(func(s *JobStatus) {
		wasStarted = s.Active || s.Done
		if !wasStarted {
			s.Active = true
		}
	})
	if stat.Err != nil {
		return stat.Err
	}
	if wasStarted {
		return ErrJobStarted
	}

	j.wg.Add(1)
	go j.sendLoop()

	return nil
}

func (j *Job) sendLoop() {
	defer j.wg.Done()

	for {
		var line string
		var ok bool
		select {
		case line, ok = <-j.lines:
		case <-j.ctx.Done():
			return
		}
		if !ok {
			// everything is queued, the last ack finishes the job
			j.updateStatus(j.checkDone)
			return
		}

		if !j.waitForRoom() {
			return
		}

		err := j.ctrl.Enqueue(line)
		if err != nil {
			j.failWith(err)
			return
		}
	}
}

func (j *Job) waitForRoom() bool {
	for {
		ch := j.ctrl.changed()
		if j.ctrl.QueueDepth() < jobQueueLines {
			return true
		}
		select {
		case <-ch:
		case <-j.ctx.Done():
			return false
		}
	}
}

func (j *Job) checkDone(s *JobStatus) {
	if s.Active && s.ReadComplete && s.Completed >= s.Read {
		s.Active = false
		s.Done = true
	}
}

func (j *Job) commandSent() {
	j.updateStatus(func(s *JobStatus) {
		if s.Active {
			s.Sent++
		}
	})
}

func (j *Job) commandDone(err error) {
	if err != nil {
		if j.Status().Active {
			j.failWith(err)
		}
		return
	}
	j.updateStatus(func(s *JobStatus) {
		if !s.Active {
			return
		}
		s.Completed++
		j.checkDone(s)
	})
}

func (j *Job) Err() error { return j.Status().Err }

// Close stops the job and waits for its goroutines to exit.
func (j *Job) Close() error {
	j.failWith(nil)
	j.wg.Wait()
	return nil
}
