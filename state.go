package main

import (
	"github.com/mastercactapus/cncstream/machine"
)

type snapshot struct {
	status machine.ControllerStatus
	job    machine.JobStatus
}

// uiState is the latest controller and job status, shared between the
// status goroutine and the widget callbacks.
type uiState struct {
	ch chan snapshot
}

func newUIState() *uiState {
	u := &uiState{ch: make(chan snapshot, 1)}
	u.ch <- snapshot{}
	return u
}

func (u *uiState) get() snapshot {
	s := <-u.ch
	u.ch <- s
	return s
}

func (u *uiState) update(fn func(s *snapshot)) snapshot {
	s := <-u.ch
	fn(&s)
	u.ch <- s
	return s
}

// watch copies updates from the controller into u and calls refresh once a
// status report has been seen. It returns when done is closed.
func (u *uiState) watch(status <-chan machine.ControllerStatus, jobs <-chan machine.JobStatus, done <-chan struct{}, refresh func(snapshot)) {
	for {
		var s snapshot
		select {
		case <-done:
			return
		case st := <-status:
			s = u.update(func(s *snapshot) { s.status = st })
		case job := <-jobs:
			s = u.update(func(s *snapshot) { s.job = job })
		}
		if s.status == nil {
			continue
		}
		refresh(s)
	}
}
