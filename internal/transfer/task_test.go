package transfer

import (
	"errors"
	"testing"
	"time"
)

func TestNewTask(t *testing.T) {
	task := NewTask("file123", "result.zip", "/local/result.zip", 2048)

	if task.ID == "" {
		t.Error("Task ID should not be empty")
	}
	if other := NewTask("file123", "result.zip", "/local/result.zip", 2048); other.ID == task.ID {
		t.Error("Task IDs should be unique")
	}
	if task.Status != StatusPending {
		t.Errorf("Expected pending, got %s", task.Status)
	}
	if task.Signals() == nil {
		t.Fatal("Task should carry signals")
	}
	if task.Progress() != 0 {
		t.Errorf("Expected progress 0, got %f", task.Progress())
	}
}

func TestTaskDownloadedClamped(t *testing.T) {
	task := NewTask("f", "f", "/f", 1000)

	task.setDownloaded(400)
	if task.Downloaded != 400 || task.Progress() != 0.4 {
		t.Errorf("downloaded=%d progress=%f", task.Downloaded, task.Progress())
	}
	task.setDownloaded(5000)
	if task.Downloaded != 1000 {
		t.Errorf("downloaded should clamp to total, got %d", task.Downloaded)
	}

	unknown := NewTask("f", "f", "/f", 0)
	unknown.setDownloaded(5000)
	if unknown.Downloaded != 5000 || unknown.Progress() != 0 {
		t.Error("unknown size should not clamp or report progress")
	}
}

func TestTaskFinishAndReason(t *testing.T) {
	task := NewTask("f", "f", "/f", 10)
	task.Speed = 123
	task.Err = transportError("unexpected status 500", nil)
	task.finish(StatusFailed)

	if task.Speed != 0 {
		t.Error("finish should zero the speed")
	}
	if task.FinishedAt.IsZero() {
		t.Error("finish should record the time")
	}
	if task.Reason() != "unexpected status 500" {
		t.Errorf("reason = %q", task.Reason())
	}
	if snap := task.Snapshot(); snap.Reason != task.Reason() || snap.Status != StatusFailed {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		retry    bool
	}{
		{StatusPending, false, false},
		{StatusDownloading, false, false},
		{StatusPaused, false, false},
		{StatusDone, true, false},
		{StatusFailed, true, true},
		{StatusCancelled, true, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v", tt.status, got)
		}
		if got := tt.status.CanRetry(); got != tt.retry {
			t.Errorf("%s.CanRetry() = %v", tt.status, got)
		}
	}
}

func TestFailureWrapping(t *testing.T) {
	base := errors.New("disk full")
	err := error(localError("failed to write destination", base))

	f, ok := AsFailure(err)
	if !ok {
		t.Fatal("AsFailure should find the failure")
	}
	if f.Kind != FailLocalIO {
		t.Errorf("kind = %s", f.Kind)
	}
	if !errors.Is(err, base) {
		t.Error("failure should unwrap to its cause")
	}
	if err.Error() != "failed to write destination: disk full" {
		t.Errorf("message = %q", err.Error())
	}
	if _, ok := AsFailure(base); ok {
		t.Error("plain error is not a failure")
	}
}

func TestSignals_WaitBlocksUntilResume(t *testing.T) {
	s := NewSignals()
	s.Pause()

	result := make(chan bool)
	go func() { result <- s.Wait() }()

	select {
	case <-result:
		t.Fatal("Wait returned while paused")
	case <-time.After(30 * time.Millisecond):
	}

	s.Resume()
	select {
	case ok := <-result:
		if !ok {
			t.Error("Wait should report true after resume")
		}
	case <-time.After(time.Second):
		t.Fatal("Resume did not wake the waiter")
	}
}

func TestSignals_CancelWakesWaiter(t *testing.T) {
	s := NewSignals()
	s.Pause()

	result := make(chan bool)
	go func() { result <- s.Wait() }()
	time.Sleep(10 * time.Millisecond)
	s.Cancel()

	select {
	case ok := <-result:
		if ok {
			t.Error("Wait should report false after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Cancel did not wake the waiter")
	}

	s.Reset()
	if s.Paused() || s.Cancelled() {
		t.Error("Reset should clear both flags")
	}
	if !s.Wait() {
		t.Error("Wait on cleared signals should return true immediately")
	}
}
