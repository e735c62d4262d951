package transfer

// Message is sent by a worker to the queue. TaskID routes it to its record.
type Message interface {
	Task() string
}

// StartedMsg carries the authoritative size resolved from the server.
type StartedMsg struct {
	TaskID    string
	TotalSize int64
}

// ProgressMsg is emitted on a fixed wall-clock cadence while bytes flow.
type ProgressMsg struct {
	TaskID     string
	Downloaded int64
	Speed      float64 // bytes/sec since the previous sample
}

// DoneMsg means the destination holds every byte.
type DoneMsg struct {
	TaskID string
}

// FailedMsg ends the worker with a failure.
type FailedMsg struct {
	TaskID string
	Err    *Failure
}

// CancelledMsg acknowledges a cancel request. Downloaded is what's on disk.
type CancelledMsg struct {
	TaskID     string
	Downloaded int64
}

func (m StartedMsg) Task() string   { return m.TaskID }
func (m ProgressMsg) Task() string  { return m.TaskID }
func (m DoneMsg) Task() string      { return m.TaskID }
func (m FailedMsg) Task() string    { return m.TaskID }
func (m CancelledMsg) Task() string { return m.TaskID }

// isFinal reports whether the worker exits after sending m.
func isFinal(m Message) bool {
	switch m.(type) {
	case DoneMsg, FailedMsg, CancelledMsg:
		return true
	}
	return false
}
