// Package app wires the download queue and the operation dispatcher into a
// single cooperative loop.
//
// The loop never blocks on the network. Each tick it applies whatever the
// download worker and the one-shot operations have sent, then makes sure the
// download lane is busy.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/rescale/rescale-files/internal/config"
	"github.com/rescale/rescale-files/internal/constants"
	"github.com/rescale/rescale-files/internal/diskspace"
	"github.com/rescale/rescale-files/internal/events"
	"github.com/rescale/rescale-files/internal/logging"
	"github.com/rescale/rescale-files/internal/ops"
	"github.com/rescale/rescale-files/internal/transfer"
)

// Remote is everything the loop's two halves need from the storage client.
// *api.Client satisfies it.
type Remote interface {
	transfer.Remote
	ops.Remote
}

// Options assembles an App from parts. Queue and Dispatcher are required.
type Options struct {
	Queue      *transfer.Queue
	Dispatcher *ops.Dispatcher
	Store      *transfer.Store  // Optional: nil disables persistence
	EventBus   *events.EventBus // Optional
	Logger     *logging.Logger
	Tick       time.Duration
	OnResult   func(ops.Result) // Called on the loop goroutine for each drained result
}

// App is the event loop.
type App struct {
	queue      *transfer.Queue
	dispatcher *ops.Dispatcher
	store      *transfer.Store
	eventBus   *events.EventBus
	ownsBus    bool
	logger     *logging.Logger
	tick       time.Duration
	onResult   func(ops.Result)
}

// New creates a loop around existing components.
func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Tick <= 0 {
		opts.Tick = constants.TickInterval
	}
	return &App{
		queue:      opts.Queue,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		eventBus:   opts.EventBus,
		logger:     opts.Logger,
		tick:       opts.Tick,
		onResult:   opts.OnResult,
	}
}

// NewFromConfig builds the production loop: OS filesystem, disk space
// pre-flight, JSON state file and an event bus owned by the App.
func NewFromConfig(ctx context.Context, cfg *config.Config, remote Remote, logger *logging.Logger) (*App, error) {
	if err := cfg.ValidateLocal(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	fs := afero.NewOsFs()
	bus := events.NewEventBus(constants.EventBusDefaultBuffer)

	queue := transfer.NewQueue(remote, transfer.QueueConfig{
		Fs: fs,
		Worker: transfer.WorkerConfig{
			ChunkSize:        cfg.ChunkSize(),
			ProgressInterval: cfg.ProgressInterval(),
			CheckSpace:       diskspace.Check,
		},
		EventBus: bus,
		Logger:   logger.Named("queue"),
	})
	dispatcher := ops.NewDispatcher(ctx, remote, ops.Config{
		EventBus: bus,
		Logger:   logger,
	})

	a := New(Options{
		Queue:      queue,
		Dispatcher: dispatcher,
		Store:      transfer.NewStore(cfg.StateFile, fs, logger.Named("store")),
		EventBus:   bus,
		Logger:     logger.Named("app"),
		Tick:       cfg.TickInterval(),
	})
	a.ownsBus = true
	return a, nil
}

// Queue returns the download queue.
func (a *App) Queue() *transfer.Queue { return a.queue }

// Dispatcher returns the operation dispatcher.
func (a *App) Dispatcher() *ops.Dispatcher { return a.dispatcher }

// Events returns the event bus, or nil.
func (a *App) Events() *events.EventBus { return a.eventBus }

// SetResultHandler replaces the per-result callback. Not safe while Run is active.
func (a *App) SetResultHandler(fn func(ops.Result)) { a.onResult = fn }

// Restore loads saved downloads into the queue as Paused. Call before the
// first tick.
func (a *App) Restore() int {
	if a.store == nil {
		return 0
	}
	return a.queue.Restore(a.store)
}

// Tick runs one loop iteration and returns the operation results it drained.
func (a *App) Tick() []ops.Result {
	a.queue.Drain()
	a.queue.StartNext()

	results := a.dispatcher.Drain()
	if a.onResult != nil {
		for _, r := range results {
			a.onResult(r)
		}
	}
	return results
}

// Idle reports whether there is nothing left for the loop to do: no
// download running or pending and no operation result outstanding.
func (a *App) Idle() bool {
	return a.queue.Idle() && a.dispatcher.Pending() == 0
}

// Run ticks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	return a.loop(ctx, false)
}

// RunUntilIdle ticks until Idle or until ctx is done, whichever comes first.
func (a *App) RunUntilIdle(ctx context.Context) error {
	return a.loop(ctx, true)
}

func (a *App) loop(ctx context.Context, stopWhenIdle bool) error {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	a.logger.Debug().Dur("tick", a.tick).Bool("until_idle", stopWhenIdle).Msg("event loop started")
	for {
		a.Tick()
		if stopWhenIdle && a.Idle() {
			a.logger.Debug().Msg("event loop idle")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the active download, saves unfinished work and releases the
// event bus if the App created it. Save errors are logged, not returned;
// the returned error only reports a worker that didn't stop before ctx ended.
func (a *App) Close(ctx context.Context) error {
	err := a.queue.Shutdown(ctx)

	// Results that raced the shutdown still get reported.
	a.Tick()

	if a.store != nil {
		if serr := a.queue.Save(a.store); serr != nil {
			a.logger.Warn().Err(serr).Str("path", a.store.Path()).Msg("failed to save download queue")
		}
	}
	if a.ownsBus && a.eventBus != nil {
		if n := a.eventBus.Dropped(); n > 0 {
			a.logger.Debug().Int64("events", n).Msg("slow subscribers missed events")
		}
		a.eventBus.Close()
	}
	return err
}
