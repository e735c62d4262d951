// Package transfer implements the single-lane download queue: task records,
// the resumable download worker, scheduling, and on-disk persistence of
// unfinished work.
package transfer

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a download task.
type Status string

const (
	StatusPending     Status = "pending"     // Waiting for the lane
	StatusDownloading Status = "downloading" // Holds the lane, worker running
	StatusPaused      Status = "paused"      // Paused by user (or restored from disk)
	StatusDone        Status = "done"        // All bytes on disk
	StatusFailed      Status = "failed"      // Worker reported a failure
	StatusCancelled   Status = "cancelled"   // Cancelled by user
)

// IsTerminal reports whether automatic progression stops at this status.
// Failed and cancelled tasks can still be retried by the user.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// CanRetry reports whether a task in this status may be re-queued.
func (s Status) CanRetry() bool {
	return s == StatusFailed || s == StatusCancelled
}

// Task is the record for one file download.
//
// FileID, Name and Dest never change after creation. Downloaded, TotalSize and
// Speed are only ever written by the queue while applying messages from the
// task's own worker, so there is exactly one writer per task at a time.
type Task struct {
	ID     string // Stable identity used to route worker messages
	FileID string // Remote file handle
	Name   string // Display name
	Dest   string // Local destination path

	TotalSize  int64   // 0 until resolved by the worker
	Downloaded int64   // Bytes on disk
	Speed      float64 // bytes/sec from the most recent sample
	Status     Status
	Err        *Failure // Set when Status == StatusFailed

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	signals *Signals
}

// NewTask creates a pending task. size may be 0 when the caller doesn't know it yet.
func NewTask(fileID, name, dest string, size int64) *Task {
	return &Task{
		ID:        uuid.NewString(),
		FileID:    fileID,
		Name:      name,
		Dest:      dest,
		TotalSize: size,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		signals:   NewSignals(),
	}
}

// Signals returns the pause/cancel flags shared with the task's worker.
func (t *Task) Signals() *Signals {
	return t.signals
}

// Progress returns the completed fraction in [0, 1], or 0 if the size is unknown.
func (t *Task) Progress() float64 {
	if t.TotalSize <= 0 {
		return 0
	}
	p := float64(t.Downloaded) / float64(t.TotalSize)
	if p > 1 {
		p = 1
	}
	return p
}

// Reason returns the human-readable failure reason, or "" if the task hasn't failed.
func (t *Task) Reason() string {
	if t.Err == nil {
		return ""
	}
	return t.Err.Error()
}

// Snapshot returns a copy safe to hand to other goroutines.
func (t *Task) Snapshot() Snapshot {
	return Snapshot{
		ID:         t.ID,
		FileID:     t.FileID,
		Name:       t.Name,
		Dest:       t.Dest,
		TotalSize:  t.TotalSize,
		Downloaded: t.Downloaded,
		Speed:      t.Speed,
		Status:     t.Status,
		Reason:     t.Reason(),
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
}

// setDownloaded records bytes written, keeping Downloaded within TotalSize
// and never moving it backwards unless the worker restarted the file.
func (t *Task) setDownloaded(n int64) {
	if t.TotalSize > 0 && n > t.TotalSize {
		n = t.TotalSize
	}
	t.Downloaded = n
}

func (t *Task) finish(status Status) {
	t.Status = status
	t.Speed = 0
	t.FinishedAt = time.Now()
}

// Snapshot is an immutable view of a Task.
type Snapshot struct {
	ID         string
	FileID     string
	Name       string
	Dest       string
	TotalSize  int64
	Downloaded int64
	Speed      float64
	Status     Status
	Reason     string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Progress returns the completed fraction in [0, 1].
func (s Snapshot) Progress() float64 {
	if s.TotalSize <= 0 {
		return 0
	}
	p := float64(s.Downloaded) / float64(s.TotalSize)
	if p > 1 {
		p = 1
	}
	return p
}
