package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/rescale/rescale-files/internal/events"
)

// QueueUI renders download queue events. On a terminal each task that has
// taken the lane gets an mpb bar; otherwise transitions are printed as lines.
type QueueUI struct {
	mu       sync.Mutex
	out      io.Writer
	progress *mpb.Progress
	tty      bool
	rows     map[string]*queueRow // TaskID -> row
}

// queueRow is one task's bar. The decorators run on mpb's render goroutine,
// so everything they read is behind mu.
type queueRow struct {
	mu     sync.Mutex
	bar    *mpb.Bar
	name   string
	size   int64
	speed  float64
	paused bool
}

// NewQueueUI creates a UI writing to w. tty selects bars over plain lines.
func NewQueueUI(w io.Writer, tty bool) *QueueUI {
	u := &QueueUI{
		out:  w,
		tty:  tty,
		rows: make(map[string]*queueRow),
	}
	if tty {
		if f, ok := w.(*os.File); ok {
			enableANSIOnWindows(f)
		}
		u.progress = mpb.New(
			mpb.WithOutput(w),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	}
	return u
}

// Writer returns an io.Writer that prints above the bars.
func (u *QueueUI) Writer() io.Writer {
	if u.tty {
		return u.progress
	}
	return u.out
}

// IsTerminal returns whether bars are being drawn.
func (u *QueueUI) IsTerminal() bool {
	return u.tty
}

// Watch handles events from ch until it is closed.
func (u *QueueUI) Watch(ch <-chan events.Event) {
	for ev := range ch {
		u.Handle(ev)
	}
}

// Handle applies one event. Events it doesn't know are ignored.
func (u *QueueUI) Handle(ev events.Event) {
	switch e := ev.(type) {
	case *events.TransferEvent:
		u.handleTransfer(e)
	case *events.OperationEvent:
		if e.Succeeded() {
			u.printf("✓ %s\n", e.Message)
		} else {
			u.printf("✗ %s %s: %v\n", e.Kind, e.Target, e.Err)
		}
	}
}

func (u *QueueUI) handleTransfer(e *events.TransferEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	row := u.rows[e.TaskID]
	switch e.Type() {
	case events.EventTransferQueued:
		u.printfLocked("Queued %s\n", e.Name)

	case events.EventTransferStarted:
		if row == nil {
			row = u.addRowLocked(e)
		}
		row.set(e, false)
		if !u.tty {
			u.printfLocked("Downloading %s (%s)\n", e.Name, sizeLabel(e.Size))
		}

	case events.EventTransferProgress:
		if row == nil {
			row = u.addRowLocked(e)
		}
		row.set(e, false)

	case events.EventTransferPaused:
		if row != nil {
			row.set(e, true)
		}
		u.printfLocked("Paused %s at %.0f%%\n", e.Name, e.Progress*100)

	case events.EventTransferResumed:
		if row != nil {
			row.set(e, false)
		}
		u.printfLocked("Resumed %s\n", e.Name)

	case events.EventTransferCompleted:
		if row != nil && row.bar != nil {
			total := max(e.Size, e.Downloaded)
			row.bar.SetCurrent(total)
			row.bar.SetTotal(total, true)
		}
		delete(u.rows, e.TaskID)
		u.printfLocked("✓ %s (%s)\n", e.Name, humanize.IBytes(uint64(max(e.Size, e.Downloaded))))

	case events.EventTransferFailed:
		if row != nil && row.bar != nil {
			row.bar.Abort(false)
		}
		delete(u.rows, e.TaskID)
		u.printfLocked("✗ %s: %s\n", e.Name, e.Reason)

	case events.EventTransferCancelled:
		if row != nil && row.bar != nil {
			row.bar.Abort(true)
		}
		delete(u.rows, e.TaskID)
		u.printfLocked("Cancelled %s\n", e.Name)

	case events.EventTransferRemoved:
		if row != nil && row.bar != nil {
			row.bar.Abort(true)
		}
		delete(u.rows, e.TaskID)
	}
}

func (u *QueueUI) addRowLocked(e *events.TransferEvent) *queueRow {
	row := &queueRow{name: e.Name, size: e.Size}
	u.rows[e.TaskID] = row
	if !u.tty {
		return row
	}

	label := truncatePath(e.Name, 2)
	row.bar = u.progress.New(e.Size,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(label, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(s decor.Statistics) string {
				if s.Total <= 0 {
					return "   ---"
				}
				return fmt.Sprintf("%5.1f%%", float64(s.Current)/float64(s.Total)*100)
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(decor.Statistics) string {
				return row.status()
			}, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return row
}

func (r *queueRow) set(e *events.TransferEvent, paused bool) {
	r.mu.Lock()
	r.speed = e.Speed
	r.paused = paused
	grew := e.Size > 0 && e.Size != r.size
	if grew {
		r.size = e.Size
	}
	r.mu.Unlock()

	// The bar calls back into status() while rendering; never hold r.mu here.
	if r.bar == nil {
		return
	}
	if grew {
		r.bar.SetTotal(e.Size, false)
	}
	r.bar.SetCurrent(e.Downloaded)
}

func (r *queueRow) status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return "paused"
	}
	if r.speed <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(r.speed)) + "/s"
}

// Close aborts any bars still on screen and waits for the renderer to stop.
func (u *QueueUI) Close() {
	u.mu.Lock()
	for id, row := range u.rows {
		if row.bar != nil {
			row.bar.Abort(false)
		}
		delete(u.rows, id)
	}
	u.mu.Unlock()

	if u.progress != nil {
		u.progress.Wait()
	}
}

func (u *QueueUI) printf(format string, args ...any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.printfLocked(format, args...)
}

func (u *QueueUI) printfLocked(format string, args ...any) {
	fmt.Fprintf(u.Writer(), format, args...)
}

func sizeLabel(size int64) string {
	if size <= 0 {
		return "size unknown"
	}
	return humanize.IBytes(uint64(size))
}
