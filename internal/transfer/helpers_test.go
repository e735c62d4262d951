package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// memRemote serves file contents from memory. A file with a gate blocks in
// ResolveDownload until the gate is closed or the context ends.
type memRemote struct {
	mu       sync.Mutex
	files    map[string][]byte
	gates    map[string]chan struct{}
	fail     map[string]error
	requests atomic.Int32
}

func newMemRemote() *memRemote {
	return &memRemote{
		files: make(map[string][]byte),
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]error),
	}
}

func (r *memRemote) add(id string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[id] = data
}

func (r *memRemote) gate(id string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gates[id] = ch
	return ch
}

func (r *memRemote) failResolve(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[id] = err
}

func (r *memRemote) ResolveDownload(ctx context.Context, fileID string) (string, int64, error) {
	r.mu.Lock()
	gate := r.gates[fileID]
	data, ok := r.files[fileID]
	failErr := r.fail[fileID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	if failErr != nil {
		return "", 0, failErr
	}
	if !ok {
		return "", 0, fmt.Errorf("file %s not found", fileID)
	}
	return "mem://" + fileID, int64(len(data)), nil
}

func (r *memRemote) Get(ctx context.Context, url string, offset int64) (*nethttp.Response, error) {
	r.requests.Add(1)
	r.mu.Lock()
	data := r.files[url[len("mem://"):]]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := &nethttp.Response{Header: make(nethttp.Header)}
	if offset > 0 {
		resp.StatusCode = nethttp.StatusPartialContent
		resp.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(data)-1, len(data)))
		resp.Body = io.NopCloser(bytes.NewReader(data[offset:]))
		resp.ContentLength = int64(len(data)) - offset
		return resp, nil
	}
	resp.StatusCode = nethttp.StatusOK
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return resp, nil
}

// httpRemote resolves every file to an httptest server.
type httpRemote struct {
	srv        *httptest.Server
	size       int64
	resolveErr error
}

func (r *httpRemote) ResolveDownload(ctx context.Context, fileID string) (string, int64, error) {
	if r.resolveErr != nil {
		return "", 0, r.resolveErr
	}
	return r.srv.URL + "/files/" + fileID, r.size, nil
}

func (r *httpRemote) Get(ctx context.Context, url string, offset int64) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return r.srv.Client().Do(req)
}

func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// collect reads worker messages until a final one arrives.
func collect(t *testing.T, out <-chan Message) []Message {
	t.Helper()
	var msgs []Message
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-out:
			msgs = append(msgs, m)
			if isFinal(m) {
				return msgs
			}
		case <-timeout:
			t.Fatalf("timed out waiting for final message, got %d messages", len(msgs))
			return nil
		}
	}
}

func lastProgress(msgs []Message) (ProgressMsg, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if p, ok := msgs[i].(ProgressMsg); ok {
			return p, true
		}
	}
	return ProgressMsg{}, false
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
