package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/rescale/rescale-files/internal/constants"
	"github.com/rescale/rescale-files/internal/logging"
)

// Resolver turns a remote file handle into a short-lived direct URL and the
// authoritative size. URLs expire, so the worker resolves once per attempt.
type Resolver interface {
	ResolveDownload(ctx context.Context, fileID string) (url string, size int64, err error)
}

// Fetcher performs an authenticated GET. offset > 0 requests "Range: bytes=offset-".
type Fetcher interface {
	Get(ctx context.Context, url string, offset int64) (*nethttp.Response, error)
}

// Remote is the storage client as seen by the queue.
type Remote interface {
	Resolver
	Fetcher
}

// SpaceChecker returns an error if path's filesystem can't take required more bytes.
type SpaceChecker func(path string, required int64) error

// WorkerConfig tunes the fetch loop.
type WorkerConfig struct {
	ChunkSize        int           // Bytes per read/write step
	ProgressInterval time.Duration // Cadence of ProgressMsg
	CheckSpace       SpaceChecker  // nil disables the pre-flight disk check
}

// DefaultWorkerConfig returns the production tuning.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ChunkSize:        constants.DownloadChunkSize,
		ProgressInterval: constants.ProgressInterval,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = constants.DownloadChunkSize
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = constants.ProgressInterval
	}
	return c
}

// Worker downloads one task into its destination, resuming from whatever is
// already on disk. It never touches the Task itself: everything it learns is
// reported through messages.
type Worker struct {
	taskID  string
	fileID  string
	dest    string
	signals *Signals

	remote Remote
	fs     afero.Fs
	cfg    WorkerConfig
	out    chan<- Message
	logger *logging.Logger
}

// NewWorker binds a worker to one task.
func NewWorker(task *Task, remote Remote, fs afero.Fs, cfg WorkerConfig, out chan<- Message, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Worker{
		taskID:  task.ID,
		fileID:  task.FileID,
		dest:    task.Dest,
		signals: task.Signals(),
		remote:  remote,
		fs:      fs,
		cfg:     cfg.withDefaults(),
		out:     out,
		logger:  logger,
	}
}

// Run performs the download and always finishes with exactly one of
// DoneMsg, FailedMsg or CancelledMsg.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Str("task", w.taskID).Interface("panic", r).Msg("download worker panicked")
			w.out <- FailedMsg{TaskID: w.taskID, Err: localError("download worker crashed", fmt.Errorf("%v", r))}
		}
	}()

	final := w.download(ctx)
	w.out <- final
}

func (w *Worker) download(ctx context.Context) Message {
	if w.signals.Cancelled() {
		return w.cancelled(-1)
	}

	url, total, err := w.remote.ResolveDownload(ctx, w.fileID)
	if err != nil {
		if w.signals.Cancelled() {
			return w.cancelled(-1)
		}
		return w.failed(resolutionError(err))
	}
	w.out <- StartedMsg{TaskID: w.taskID, TotalSize: total}

	if err := w.fs.MkdirAll(filepath.Dir(w.dest), 0o755); err != nil {
		return w.failed(localError("failed to create destination directory", err))
	}

	existing, ferr := w.existingSize()
	if ferr != nil {
		return w.failed(ferr)
	}

	// Already complete: no request at all.
	if total > 0 && existing >= total {
		w.logger.Debug().Str("task", w.taskID).Int64("size", existing).Msg("destination already complete")
		return DoneMsg{TaskID: w.taskID}
	}

	if w.cfg.CheckSpace != nil && total > existing {
		if err := w.cfg.CheckSpace(w.dest, total-existing); err != nil {
			return w.failed(localError("not enough disk space", err))
		}
	}

	resp, err := w.remote.Get(ctx, url, existing)
	if err != nil {
		if w.signals.Cancelled() {
			return w.cancelled(existing)
		}
		return w.failed(transportError("download request failed", err))
	}
	defer resp.Body.Close()

	offset, rangeTotal, ferr := w.resumeOffset(resp, existing)
	if ferr != nil {
		return w.failed(ferr)
	}
	switch {
	case rangeTotal > 0 && total > 0 && rangeTotal != total:
		return w.failed(transportError("server reported a different file size",
			fmt.Errorf("resolved %d, Content-Range says %d", total, rangeTotal)))
	case total <= 0 && rangeTotal > 0:
		total = rangeTotal
		w.out <- StartedMsg{TaskID: w.taskID, TotalSize: total}
	case total <= 0 && resp.StatusCode == nethttp.StatusOK && resp.ContentLength > 0:
		total = resp.ContentLength
		w.out <- StartedMsg{TaskID: w.taskID, TotalSize: total}
	}

	return w.stream(resp.Body, offset, total)
}

// existingSize returns the length of a partial file at dest, 0 if absent.
func (w *Worker) existingSize() (int64, *Failure) {
	info, err := w.fs.Stat(w.dest)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, localError("failed to inspect destination", err)
	}
	if info.IsDir() {
		return 0, localError("destination is a directory", fmt.Errorf("%s", w.dest))
	}
	return info.Size(), nil
}

// resumeOffset validates the response status and decides where writing
// starts. It also returns the full size from a 206 Content-Range, or -1.
// A 200 answer to a ranged request means the server ignored the range, so
// the file is rewritten from zero instead of appending mismatched bytes.
func (w *Worker) resumeOffset(resp *nethttp.Response, existing int64) (int64, int64, *Failure) {
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		cr := resp.Header.Get("Content-Range")
		if cr == "" {
			return existing, -1, nil
		}
		start, size, err := parseContentRange(cr)
		if err != nil {
			return 0, -1, transportError("invalid Content-Range", err)
		}
		if start != existing {
			return 0, -1, transportError("server resumed at wrong offset",
				fmt.Errorf("requested %d, got %d", existing, start))
		}
		return existing, size, nil
	case nethttp.StatusOK:
		if existing > 0 {
			w.logger.Warn().Str("task", w.taskID).Int64("existing", existing).
				Msg("server ignored range request, restarting from zero")
		}
		return 0, -1, nil
	default:
		return 0, -1, transportError(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
}

func (w *Worker) stream(body io.Reader, offset, total int64) Message {
	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := w.fs.OpenFile(w.dest, flags, 0o644)
	if err != nil {
		return w.failed(localError("failed to open destination", err))
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return w.failed(localError("failed to seek destination", err))
		}
	}

	bw := bufio.NewWriterSize(f, w.cfg.ChunkSize)
	closeFile := func() *Failure {
		if err := bw.Flush(); err != nil {
			f.Close()
			return localError("failed to write destination", err)
		}
		if err := f.Close(); err != nil {
			return localError("failed to close destination", err)
		}
		return nil
	}

	buf := make([]byte, w.cfg.ChunkSize)
	downloaded := offset
	lastSample := time.Now()
	lastBytes := downloaded
	var speed float64

	w.progress(downloaded, 0)

	for {
		if w.signals.Cancelled() {
			if ferr := closeFile(); ferr != nil {
				return w.failed(ferr)
			}
			return w.cancelled(downloaded)
		}
		if w.signals.Paused() {
			// Flush so the partial file is consistent while we sit here.
			if err := bw.Flush(); err != nil {
				f.Close()
				return w.failed(localError("failed to write destination", err))
			}
			w.progress(downloaded, 0)
			if !w.signals.Wait() {
				if ferr := closeFile(); ferr != nil {
					return w.failed(ferr)
				}
				return w.cancelled(downloaded)
			}
			lastSample = time.Now()
			lastBytes = downloaded
		}

		// Only io.EOF ends the stream; a connection cut mid-body surfaces as
		// io.ErrUnexpectedEOF and is a transport failure.
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := bw.Write(buf[:n]); err != nil {
				f.Close()
				return w.failed(localError("failed to write destination", err))
			}
			downloaded += int64(n)
		}

		if elapsed := time.Since(lastSample); elapsed >= w.cfg.ProgressInterval {
			speed = float64(downloaded-lastBytes) / elapsed.Seconds()
			w.progress(downloaded, speed)
			lastSample = time.Now()
			lastBytes = downloaded
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ferr := closeFile(); ferr != nil {
				return w.failed(ferr)
			}
			if w.signals.Cancelled() {
				return w.cancelled(downloaded)
			}
			return w.failed(transportError("download interrupted", rerr))
		}
	}

	if ferr := closeFile(); ferr != nil {
		return w.failed(ferr)
	}

	if total > 0 && downloaded != total {
		return w.failed(transportError("incomplete download",
			fmt.Errorf("received %d of %d bytes", downloaded, total)))
	}

	if elapsed := time.Since(lastSample); elapsed > 0 && downloaded > lastBytes {
		speed = float64(downloaded-lastBytes) / elapsed.Seconds()
	}
	w.progress(downloaded, speed)
	w.logger.Debug().Str("task", w.taskID).Int64("bytes", downloaded).Msg("download complete")
	return DoneMsg{TaskID: w.taskID}
}

// progress never blocks: if the queue is behind, the sample is dropped and
// the next one supersedes it.
func (w *Worker) progress(downloaded int64, speed float64) {
	select {
	case w.out <- ProgressMsg{TaskID: w.taskID, Downloaded: downloaded, Speed: speed}:
	default:
	}
}

func (w *Worker) failed(f *Failure) Message {
	w.logger.Debug().Str("task", w.taskID).Str("kind", string(f.Kind)).Msg(f.Error())
	return FailedMsg{TaskID: w.taskID, Err: f}
}

func (w *Worker) cancelled(downloaded int64) Message {
	return CancelledMsg{TaskID: w.taskID, Downloaded: downloaded}
}

// parseContentRange extracts START and TOTAL from "bytes START-END/TOTAL".
// TOTAL is -1 when the server sends "*".
func parseContentRange(header string) (int64, int64, error) {
	v := strings.TrimSpace(header)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, -1, fmt.Errorf("unsupported unit in %q", header)
	}
	v = strings.TrimPrefix(v, "bytes ")
	dash := strings.IndexByte(v, '-')
	slash := strings.IndexByte(v, '/')
	if dash <= 0 || slash < dash {
		return 0, -1, fmt.Errorf("malformed range %q", header)
	}
	start, err := strconv.ParseInt(v[:dash], 10, 64)
	if err != nil {
		return 0, -1, err
	}
	if _, err := strconv.ParseInt(v[dash+1:slash], 10, 64); err != nil {
		return 0, -1, fmt.Errorf("malformed range %q", header)
	}
	if v[slash+1:] == "*" {
		return start, -1, nil
	}
	size, err := strconv.ParseInt(v[slash+1:], 10, 64)
	if err != nil || size <= 0 {
		return 0, -1, fmt.Errorf("malformed size in %q", header)
	}
	return start, size, nil
}
