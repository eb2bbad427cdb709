package sync

import (
	"context"
	gosync "sync"
	"time"
)

// jobState is the mutable, mutex-guarded backing for one Job. Callers only
// ever see value snapshots of it.
type jobState struct {
	mu  gosync.Mutex
	job Job
}

func (s *jobState) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.job.Status = StatusRunning
	s.job.StartedAt = time.Now()
}

// skip marks the job terminal without it ever running. Skips count as
// success, so progress jumps straight to full.
func (s *jobState) skip(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.job.Status = StatusSkipped
	s.job.SkipReason = reason
	s.job.Progress = 100
	s.job.FinishedAt = time.Now()
}

func (s *jobState) succeed(records int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.job.Status = StatusSucceeded
	s.job.Records = records
	s.job.Progress = 100
	s.job.FinishedAt = time.Now()
}

// fail marks the job terminal with its error. Progress freezes where the
// adapter left it; a failed job still contributes its partial progress to
// the aggregate so the run total stays monotonic.
func (s *jobState) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.job.Status = StatusFailed
	s.job.Err = err
	s.job.FinishedAt = time.Now()
}

// progress records an adapter progress report, clamped to [0,100] and
// never moving backwards.
func (s *jobState) progress(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pct > 100 {
		pct = 100
	}

	if pct > s.job.Progress {
		s.job.Progress = pct
	}
}

func (s *jobState) snapshot() Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.job
}

// RunHandle tracks one in-flight sync run. It is returned immediately by
// RequestSync; callers poll Progress and Jobs, wait on Done, or Cancel.
type RunHandle struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu        gosync.Mutex
	jobs      []*jobState
	report    *Report
	aggregate float64

	// broadcastMu serializes aggregate computation with its delivery to
	// the progress callback. Without it two jobs could compute values
	// under mu and then deliver them in the opposite order.
	broadcastMu gosync.Mutex
}

// Cancel requests cooperative cancellation of every running job. Records
// persisted before the cancel remain in the store.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// Done is closed once every job has reached a terminal state.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run completes or ctx expires.
func (h *RunHandle) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.report, nil
}

// Report returns the final report, or nil while the run is still going.
func (h *RunHandle) Report() *Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.report
}

// Jobs returns a snapshot of every job's current state.
func (h *RunHandle) Jobs() []Job {
	h.mu.Lock()
	states := h.jobs
	h.mu.Unlock()

	out := make([]Job, 0, len(states))
	for _, s := range states {
		out = append(out, s.snapshot())
	}

	return out
}

// Progress returns the aggregate completion percentage across all jobs.
// The value is monotonically non-decreasing for the life of the run even
// though individual jobs finish out of order.
func (h *RunHandle) Progress() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.jobs) == 0 {
		return 100
	}

	total := 0.0
	for _, s := range h.jobs {
		total += s.snapshot().Progress
	}

	pct := total / float64(len(h.jobs))
	if pct > h.aggregate {
		h.aggregate = pct
	}

	return h.aggregate
}

func (h *RunHandle) finish(report *Report) {
	h.mu.Lock()
	h.report = report
	h.mu.Unlock()

	close(h.done)
}
