package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rescale/rescale-files/internal/events"
)

func transferEvent(t events.EventType, id, name string, size, downloaded int64) *events.TransferEvent {
	ev := &events.TransferEvent{
		BaseEvent:  events.BaseEvent{EventType: t, Time: time.Now()},
		TaskID:     id,
		Name:       name,
		Size:       size,
		Downloaded: downloaded,
	}
	if size > 0 {
		ev.Progress = float64(downloaded) / float64(size)
	}
	return ev
}

func TestQueueUI_TextMode(t *testing.T) {
	var buf bytes.Buffer
	ui := NewQueueUI(&buf, false)

	ui.Handle(transferEvent(events.EventTransferQueued, "t1", "a.dat", 0, 0))
	ui.Handle(transferEvent(events.EventTransferStarted, "t1", "a.dat", 2048, 0))
	ui.Handle(transferEvent(events.EventTransferProgress, "t1", "a.dat", 2048, 1024))
	ui.Handle(transferEvent(events.EventTransferPaused, "t1", "a.dat", 2048, 1024))
	ui.Handle(transferEvent(events.EventTransferResumed, "t1", "a.dat", 2048, 1024))
	ui.Handle(transferEvent(events.EventTransferCompleted, "t1", "a.dat", 2048, 2048))

	failed := transferEvent(events.EventTransferFailed, "t2", "b.dat", 10, 0)
	failed.Reason = "transport: connection reset"
	ui.Handle(failed)
	ui.Close()

	out := buf.String()
	for _, want := range []string{
		"Queued a.dat",
		"Downloading a.dat (2.0 KiB)",
		"Paused a.dat at 50%",
		"Resumed a.dat",
		"✓ a.dat (2.0 KiB)",
		"✗ b.dat: transport: connection reset",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if len(ui.rows) != 0 {
		t.Errorf("rows left after close: %d", len(ui.rows))
	}
}

func TestQueueUI_OperationEvents(t *testing.T) {
	var buf bytes.Buffer
	ui := NewQueueUI(&buf, false)

	ui.Handle(&events.OperationEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventOperationDone},
		Kind:      "mkdir", Target: "results", Message: "Created folder results",
	})
	ui.Handle(&events.OperationEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventOperationDone},
		Kind:      "delete", Target: "old.txt", Err: errors.New("status 404"),
	})

	out := buf.String()
	if !strings.Contains(out, "✓ Created folder results") {
		t.Errorf("missing success line:\n%s", out)
	}
	if !strings.Contains(out, "✗ delete old.txt: status 404") {
		t.Errorf("missing failure line:\n%s", out)
	}
}

func TestQueueUI_BarsFinishOnClose(t *testing.T) {
	var buf bytes.Buffer
	ui := NewQueueUI(&buf, true)

	ui.Handle(transferEvent(events.EventTransferStarted, "t1", "a.dat", 0, 0))
	ui.Handle(transferEvent(events.EventTransferProgress, "t1", "a.dat", 4096, 1024))
	ui.Handle(transferEvent(events.EventTransferCompleted, "t1", "a.dat", 4096, 4096))
	ui.Handle(transferEvent(events.EventTransferStarted, "t2", "b.dat", 100, 0))
	ui.Handle(transferEvent(events.EventTransferPaused, "t2", "b.dat", 100, 10))

	done := make(chan struct{})
	go func() {
		ui.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return with a paused bar on screen")
	}
}

func TestQueueUI_RowStatus(t *testing.T) {
	r := &queueRow{}
	if got := r.status(); got != "-" {
		t.Errorf("idle status = %q", got)
	}
	r.speed = 2048
	if got := r.status(); got != "2.0 KiB/s" {
		t.Errorf("speed status = %q", got)
	}
	r.paused = true
	if got := r.status(); got != "paused" {
		t.Errorf("paused status = %q", got)
	}
}

func TestUploadBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewUploadBar(&buf, "upload.bin", 100, true)
	bar.Update(40, 100)
	bar.Update(0, 100) // retry restarts
	bar.Update(100, 100)
	bar.Finish()

	if !strings.Contains(buf.String(), "upload.bin") {
		t.Errorf("bar output missing description: %q", buf.String())
	}
}

func TestTruncatePath(t *testing.T) {
	if got := truncatePath("/a/b/c/d/file.txt", 2); got != "…/d/file.txt" {
		t.Errorf("truncatePath = %q", got)
	}
	if got := truncatePath("file.txt", 2); got != "file.txt" {
		t.Errorf("truncatePath short = %q", got)
	}
}
