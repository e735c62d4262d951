package transfer

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/rescale/rescale-files/internal/constants"
	"github.com/rescale/rescale-files/internal/events"
	"github.com/rescale/rescale-files/internal/logging"
)

// Request describes one file to download.
type Request struct {
	FileID string
	Name   string
	Dest   string
	Size   int64 // 0 if unknown
}

// QueueConfig holds the queue's collaborators. Zero values get sane defaults.
type QueueConfig struct {
	Fs            afero.Fs         // Local filesystem, defaults to the OS
	Worker        WorkerConfig     // Fetch loop tuning
	EventBus      *events.EventBus // Optional lifecycle events
	Logger        *logging.Logger
	MessageBuffer int // Capacity of the worker message channel
}

// QueueStats counts tasks by status.
type QueueStats struct {
	Pending     int
	Downloading int
	Paused      int
	Done        int
	Failed      int
	Cancelled   int
}

// Total returns total number of tasks in queue.
func (s QueueStats) Total() int {
	return s.Pending + s.Downloading + s.Paused + s.Done + s.Failed + s.Cancelled
}

// Queue is the single-lane download scheduler.
//
// At most one worker runs at a time. The lane is held by q.active from the
// moment a worker is spawned until its final message is applied, whatever the
// task's visible status is in between (a paused active task keeps the lane).
// Workers only ever talk to the queue through q.msgs; Drain applies those
// messages and is the single writer of every task's progress fields.
type Queue struct {
	mu    sync.RWMutex
	tasks []*Task          // Insertion order is scheduling order
	byID  map[string]*Task // Index for message routing

	active       *Task
	activeCancel context.CancelFunc
	activeDone   chan struct{}
	interrupted  bool // Shutdown in progress: the active task parks as Paused
	closed       bool

	remote    Remote
	fs        afero.Fs
	workerCfg WorkerConfig
	msgs      chan Message
	eventBus  *events.EventBus
	logger    *logging.Logger
}

// NewQueue creates an empty queue. Nothing runs until StartNext or Drain.
func NewQueue(remote Remote, cfg QueueConfig) *Queue {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = constants.MessageBufferSize
	}
	return &Queue{
		tasks:     make([]*Task, 0),
		byID:      make(map[string]*Task),
		remote:    remote,
		fs:        cfg.Fs,
		workerCfg: cfg.Worker.withDefaults(),
		msgs:      make(chan Message, cfg.MessageBuffer),
		eventBus:  cfg.EventBus,
		logger:    cfg.Logger,
	}
}

// Enqueue appends a pending task. It never starts a download by itself.
func (q *Queue) Enqueue(fileID, name, dest string, size int64) Snapshot {
	task := NewTask(fileID, name, dest, size)

	q.mu.Lock()
	q.add(task)
	snap := task.Snapshot()
	q.mu.Unlock()

	q.publish(events.EventTransferQueued, snap)
	return snap
}

// EnqueueBatch appends several pending tasks, preserving their order.
func (q *Queue) EnqueueBatch(reqs []Request) []Snapshot {
	snaps := make([]Snapshot, 0, len(reqs))

	q.mu.Lock()
	for _, r := range reqs {
		task := NewTask(r.FileID, r.Name, r.Dest, r.Size)
		q.add(task)
		snaps = append(snaps, task.Snapshot())
	}
	q.mu.Unlock()

	for _, s := range snaps {
		q.publish(events.EventTransferQueued, s)
	}
	return snaps
}

func (q *Queue) add(task *Task) {
	q.tasks = append(q.tasks, task)
	q.byID[task.ID] = task
}

// StartNext promotes the first pending task to Downloading and spawns its
// worker. It is a no-op when the lane is taken or nothing is pending.
func (q *Queue) StartNext() bool {
	q.mu.Lock()
	started, ok := q.startNextLocked()
	q.mu.Unlock()

	if ok {
		q.publish(events.EventTransferStarted, started)
	}
	return ok
}

func (q *Queue) startNextLocked() (Snapshot, bool) {
	if q.closed || q.active != nil {
		return Snapshot{}, false
	}

	var next *Task
	for _, t := range q.tasks {
		if t.Status == StatusPending {
			next = t
			break
		}
	}
	if next == nil {
		return Snapshot{}, false
	}

	next.Status = StatusDownloading
	next.Err = nil
	next.Speed = 0
	next.StartedAt = time.Now()
	next.FinishedAt = time.Time{}
	next.signals.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	worker := NewWorker(next, q.remote, q.fs, q.workerCfg, q.msgs, q.logger)
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	q.active = next
	q.activeCancel = cancel
	q.activeDone = done

	q.logger.Info().Str("task", next.ID).Str("name", next.Name).Msg("download started")
	return next.Snapshot(), true
}

type pendingEvent struct {
	kind events.EventType
	snap Snapshot
}

// Drain applies every message currently waiting from the worker without
// blocking, and schedules the next task whenever the active one finishes.
// It returns the number of messages applied.
func (q *Queue) Drain() int {
	var evs []pendingEvent
	n := 0

	q.mu.Lock()
	for {
		var m Message
		select {
		case m = <-q.msgs:
		default:
		}
		if m == nil {
			break
		}
		n++
		if ev, ok := q.apply(m); ok {
			evs = append(evs, ev)
		}
		if isFinal(m) {
			if started, ok := q.startNextLocked(); ok {
				evs = append(evs, pendingEvent{events.EventTransferStarted, started})
			}
		}
	}
	q.mu.Unlock()

	for _, ev := range evs {
		q.publish(ev.kind, ev.snap)
	}
	return n
}

// apply mutates the task named by m. Messages from anything but the current
// lane holder are stale and ignored.
func (q *Queue) apply(m Message) (pendingEvent, bool) {
	t := q.byID[m.Task()]
	if t == nil || t != q.active {
		q.logger.Debug().Str("task", m.Task()).Msg("ignoring message from inactive task")
		return pendingEvent{}, false
	}

	switch msg := m.(type) {
	case StartedMsg:
		if msg.TotalSize > 0 {
			t.TotalSize = msg.TotalSize
			t.setDownloaded(t.Downloaded)
		}
		return pendingEvent{events.EventTransferProgress, t.Snapshot()}, true

	case ProgressMsg:
		t.setDownloaded(msg.Downloaded)
		t.Speed = msg.Speed
		return pendingEvent{events.EventTransferProgress, t.Snapshot()}, true

	case DoneMsg:
		if t.TotalSize > 0 {
			t.Downloaded = t.TotalSize
		}
		t.finish(StatusDone)
		q.releaseLane()
		q.logger.Info().Str("task", t.ID).Str("name", t.Name).Msg("download complete")
		return pendingEvent{events.EventTransferCompleted, t.Snapshot()}, true

	case FailedMsg:
		t.Err = msg.Err
		t.finish(StatusFailed)
		q.releaseLane()
		q.logger.Warn().Str("task", t.ID).Str("name", t.Name).Str("reason", t.Reason()).Msg("download failed")
		return pendingEvent{events.EventTransferFailed, t.Snapshot()}, true

	case CancelledMsg:
		if msg.Downloaded >= 0 {
			t.setDownloaded(msg.Downloaded)
		}
		q.releaseLane()
		if q.interrupted {
			t.Status = StatusPaused
			t.Speed = 0
			return pendingEvent{events.EventTransferPaused, t.Snapshot()}, true
		}
		t.finish(StatusCancelled)
		q.logger.Info().Str("task", t.ID).Str("name", t.Name).Msg("download cancelled")
		return pendingEvent{events.EventTransferCancelled, t.Snapshot()}, true
	}
	return pendingEvent{}, false
}

func (q *Queue) releaseLane() {
	if q.activeCancel != nil {
		q.activeCancel()
	}
	q.active = nil
	q.activeCancel = nil
	q.activeDone = nil
}

// Pause stops a task from progressing. A pending task is simply skipped by
// the scheduler; the active task parks its worker but keeps the lane.
func (q *Queue) Pause(id string) error {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	switch {
	case t == q.active && t.Status == StatusDownloading:
		t.signals.Pause()
	case t.Status == StatusPending:
	default:
		q.mu.Unlock()
		return ErrNotPausable
	}
	t.Status = StatusPaused
	t.Speed = 0
	snap := t.Snapshot()
	q.mu.Unlock()

	q.publish(events.EventTransferPaused, snap)
	return nil
}

// Resume undoes Pause. The active task continues where its worker parked;
// any other paused task goes back to Pending and waits for its FIFO turn.
func (q *Queue) Resume(id string) error {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	if t.Status != StatusPaused {
		q.mu.Unlock()
		return ErrNotResumable
	}
	if t == q.active {
		t.Status = StatusDownloading
		t.signals.Resume()
	} else {
		t.Status = StatusPending
	}
	snap := t.Snapshot()
	q.mu.Unlock()

	q.publish(events.EventTransferResumed, snap)
	return nil
}

// ResumeAll moves every paused task back into the queue. Returns how many.
func (q *Queue) ResumeAll() int {
	q.mu.RLock()
	var ids []string
	for _, t := range q.tasks {
		if t.Status == StatusPaused {
			ids = append(ids, t.ID)
		}
	}
	q.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if q.Resume(id) == nil {
			n++
		}
	}
	return n
}

// Cancel stops a task for good. The active task is cancelled cooperatively and
// becomes Cancelled once its worker acknowledges; others change immediately.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	if t == q.active {
		t.signals.Cancel()
		if q.activeCancel != nil {
			q.activeCancel()
		}
		q.mu.Unlock()
		return nil
	}
	if t.Status.IsTerminal() {
		q.mu.Unlock()
		return ErrNotCancellable
	}
	t.finish(StatusCancelled)
	snap := t.Snapshot()
	q.mu.Unlock()

	q.publish(events.EventTransferCancelled, snap)
	return nil
}

// Retry re-queues a failed or cancelled task as Pending.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	if !t.Status.CanRetry() || t == q.active {
		q.mu.Unlock()
		return ErrNotRetryable
	}
	t.Status = StatusPending
	t.Err = nil
	t.FinishedAt = time.Time{}
	snap := t.Snapshot()
	q.mu.Unlock()

	q.publish(events.EventTransferQueued, snap)
	return nil
}

// Remove drops a task from the list. The lane holder cannot be removed.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	t, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	if t == q.active {
		q.mu.Unlock()
		return ErrTaskActive
	}
	q.tasks = slices.DeleteFunc(q.tasks, func(x *Task) bool { return x == t })
	delete(q.byID, id)
	snap := t.Snapshot()
	q.mu.Unlock()

	q.publish(events.EventTransferRemoved, snap)
	return nil
}

// ClearDone removes every completed task. Returns how many were removed.
func (q *Queue) ClearDone() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.tasks)
	q.tasks = slices.DeleteFunc(q.tasks, func(t *Task) bool {
		if t.Status == StatusDone {
			delete(q.byID, t.ID)
			return true
		}
		return false
	})
	return before - len(q.tasks)
}

// Tasks returns snapshots of every task in scheduling order.
func (q *Queue) Tasks() []Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Snapshot, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.Snapshot()
	}
	return out
}

// Get returns a snapshot of one task.
func (q *Queue) Get(id string) (Snapshot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	t, ok := q.byID[id]
	if !ok {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}

// Active returns the task holding the lane, if any.
func (q *Queue) Active() (Snapshot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.active == nil {
		return Snapshot{}, false
	}
	return q.active.Snapshot(), true
}

// Stats counts tasks by status.
func (q *Queue) Stats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var s QueueStats
	for _, t := range q.tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusDownloading:
			s.Downloading++
		case StatusPaused:
			s.Paused++
		case StatusDone:
			s.Done++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Idle reports whether no worker is running and nothing is waiting to run.
func (q *Queue) Idle() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.active != nil {
		return false
	}
	for _, t := range q.tasks {
		if t.Status == StatusPending {
			return false
		}
	}
	return true
}

// Shutdown stops scheduling and interrupts the active worker so its file
// handle is released before state is saved. The interrupted task ends up
// Paused, ready to resume next run. It waits for the worker until ctx ends.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	var done chan struct{}
	if q.active != nil {
		// A task the user already cancelled stays cancelled.
		q.interrupted = !q.active.signals.Cancelled()
		q.active.signals.Cancel()
		if q.activeCancel != nil {
			q.activeCancel()
		}
		done = q.activeDone
	}
	q.mu.Unlock()

	// Keep draining while waiting: the worker's final send blocks if the
	// channel is full.
	var err error
	if done != nil {
		ticker := time.NewTicker(constants.TickInterval)
		defer ticker.Stop()
	wait:
		for {
			select {
			case <-done:
				break wait
			case <-ctx.Done():
				err = ctx.Err()
				q.logger.Warn().Err(err).Msg("download worker did not stop in time")
				break wait
			case <-ticker.C:
				q.Drain()
			}
		}
	}
	q.Drain()
	return err
}

// Save persists every unfinished task.
func (q *Queue) Save(store *Store) error {
	return store.Save(q.Tasks())
}

// Restore loads saved tasks as Paused. Call once, before scheduling starts.
func (q *Queue) Restore(store *Store) int {
	records := store.Load()

	q.mu.Lock()
	snaps := make([]Snapshot, 0, len(records))
	for _, r := range records {
		task := NewTask(r.TransferID, r.DisplayName, r.Destination, r.TotalSize)
		task.Status = StatusPaused
		task.setDownloaded(r.Downloaded)
		q.add(task)
		snaps = append(snaps, task.Snapshot())
	}
	q.mu.Unlock()

	for _, s := range snaps {
		q.publish(events.EventTransferQueued, s)
	}
	if len(records) > 0 {
		q.logger.Info().Int("count", len(records)).Msg("restored unfinished downloads")
	}
	return len(records)
}

func (q *Queue) publish(eventType events.EventType, s Snapshot) {
	if q.eventBus == nil {
		return
	}
	q.eventBus.Publish(&events.TransferEvent{
		BaseEvent: events.BaseEvent{
			EventType: eventType,
			Time:      time.Now(),
		},
		TaskID:     s.ID,
		Name:       s.Name,
		Size:       s.TotalSize,
		Downloaded: s.Downloaded,
		Progress:   s.Progress(),
		Speed:      s.Speed,
		Reason:     s.Reason,
	})
}
