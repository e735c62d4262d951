package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rescale/rescale-files/internal/app"
	"github.com/rescale/rescale-files/internal/ops"
	"github.com/rescale/rescale-files/internal/transfer"
)

// keyRemote serves files from memory. IDs listed in slow never resolve
// until their context ends; unknown IDs fail.
type keyRemote struct {
	ops.Remote
	files map[string][]byte
	slow  map[string]bool
}

func (r *keyRemote) ResolveDownload(ctx context.Context, fileID string) (string, int64, error) {
	if r.slow[fileID] {
		<-ctx.Done()
		return "", 0, ctx.Err()
	}
	data, ok := r.files[fileID]
	if !ok {
		return "", 0, fmt.Errorf("file %s not found", fileID)
	}
	return "mem://" + fileID, int64(len(data)), nil
}

func (r *keyRemote) Get(ctx context.Context, url string, offset int64) (*nethttp.Response, error) {
	data := r.files[strings.TrimPrefix(url, "mem://")]
	return &nethttp.Response{
		StatusCode:    nethttp.StatusOK,
		Header:        make(nethttp.Header),
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
	}, nil
}

// runningApp queues a finished, a failed and a still-resolving download and
// ticks until the slow one holds the lane.
func runningApp(t *testing.T) (*app.App, map[string]string) {
	t.Helper()
	remote := &keyRemote{
		files: map[string][]byte{"ok": []byte("hello")},
		slow:  map[string]bool{"slow": true},
	}
	queue := transfer.NewQueue(remote, transfer.QueueConfig{Fs: afero.NewMemMapFs()})
	a := app.New(app.Options{
		Queue:      queue,
		Dispatcher: ops.NewDispatcher(context.Background(), remote, ops.Config{}),
		Tick:       time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.Close(ctx)
	})

	ids := make(map[string]string)
	for _, s := range queue.EnqueueBatch([]transfer.Request{
		{FileID: "ok", Name: "ok.bin", Dest: "/dl/ok.bin"},
		{FileID: "missing", Name: "missing.bin", Dest: "/dl/missing.bin"},
		{FileID: "slow", Name: "slow.bin", Dest: "/dl/slow.bin"},
	}) {
		ids[s.FileID] = s.ID
	}

	require.Eventually(t, func() bool {
		a.Tick()
		active, ok := queue.Active()
		return ok && active.ID == ids["slow"]
	}, 2*time.Second, time.Millisecond)
	return a, ids
}

func status(t *testing.T, q *transfer.Queue, id string) transfer.Status {
	t.Helper()
	s, ok := q.Get(id)
	require.True(t, ok, "task %s", id)
	return s.Status
}

func TestHandleKey(t *testing.T) {
	a, ids := runningApp(t)
	q := a.Queue()
	require.Equal(t, transfer.StatusDone, status(t, q, ids["ok"]))
	require.Equal(t, transfer.StatusFailed, status(t, q, ids["missing"]))

	require.Equal(t, "Paused slow.bin", handleKey(q, 'p'))
	require.Equal(t, transfer.StatusPaused, status(t, q, ids["slow"]))
	a.Tick()
	active, ok := q.Active()
	require.True(t, ok)
	require.Equal(t, ids["slow"], active.ID, "paused task keeps the lane")

	require.Equal(t, "Resumed slow.bin", handleKey(q, 'P'))
	require.Equal(t, transfer.StatusDownloading, status(t, q, ids["slow"]))

	require.Equal(t, "Retrying 1 failed download(s)", handleKey(q, 'r'))
	require.Equal(t, transfer.StatusPending, status(t, q, ids["missing"]))
	require.Empty(t, handleKey(q, 'r'), "nothing left to retry")

	require.Equal(t, "Cleared 1 finished download(s)", handleKey(q, 'd'))
	_, ok = q.Get(ids["ok"])
	require.False(t, ok)

	require.Empty(t, handleKey(q, 'x'))

	require.Equal(t, "Cancelling slow.bin", handleKey(q, 'c'))
	require.Eventually(t, func() bool {
		a.Tick()
		return status(t, q, ids["slow"]) == transfer.StatusCancelled
	}, 2*time.Second, time.Millisecond)

	// The retried task gets the lane once the cancelled one lets go.
	require.Eventually(t, func() bool {
		a.Tick()
		return status(t, q, ids["missing"]) == transfer.StatusFailed
	}, 2*time.Second, time.Millisecond)
}

func TestHandleKey_NothingActive(t *testing.T) {
	q := transfer.NewQueue(&keyRemote{}, transfer.QueueConfig{Fs: afero.NewMemMapFs()})
	require.Empty(t, handleKey(q, 'p'))
	require.Empty(t, handleKey(q, 'c'))
	require.Empty(t, handleKey(q, 'd'))
}

func TestReadKeys(t *testing.T) {
	a, ids := runningApp(t)
	q := a.Queue()

	pr, pw := io.Pipe()
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		readKeys(pr, q, io.Discard, func() { close(quit) })
	}()

	_, err := pw.Write([]byte("p"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return status(t, q, ids["slow"]) == transfer.StatusPaused
	}, time.Second, time.Millisecond)

	_, err = pw.Write([]byte{keyCtrlC})
	require.NoError(t, err)
	select {
	case <-quit:
	case <-time.After(time.Second):
		t.Fatal("Ctrl+C did not stop the run")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readKeys kept reading after quit")
	}
	pw.Close()
}

func TestReadKeys_StopsAtEOF(t *testing.T) {
	q := transfer.NewQueue(&keyRemote{}, transfer.QueueConfig{Fs: afero.NewMemMapFs()})
	quit := false
	readKeys(strings.NewReader("pcr"), q, io.Discard, func() { quit = true })
	require.False(t, quit)
}
