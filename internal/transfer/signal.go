package transfer

import (
	"sync"
)

// Signals are the pause and cancel flags shared between the UI and a worker.
//
// Pausing doesn't spin: a paused worker parks on a condition variable and is
// woken by Resume or Cancel. Cancel always wins over pause.
type Signals struct {
	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	cancelled bool
}

// NewSignals returns cleared signals.
func NewSignals() *Signals {
	s := &Signals{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Pause asks the worker to stop before its next chunk.
func (s *Signals) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume clears the pause flag and wakes a parked worker.
func (s *Signals) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Cancel asks the worker to stop for good and wakes it if parked.
func (s *Signals) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Paused reports the pause flag.
func (s *Signals) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Cancelled reports the cancel flag.
func (s *Signals) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Reset clears both flags. Called by the scheduler before a new worker starts.
func (s *Signals) Reset() {
	s.mu.Lock()
	s.paused = false
	s.cancelled = false
	s.mu.Unlock()
}

// Wait blocks while paused and returns false if the task was cancelled,
// either before or during the wait.
func (s *Signals) Wait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.paused && !s.cancelled {
		s.cond.Wait()
	}
	return !s.cancelled
}
