// Package ops runs one-shot remote file operations (rename, mkdir, delete,
// move, copy, refresh, upload) off the event loop.
//
// Every call spawns its own goroutine immediately; there is no queue and no
// concurrency cap. Results come back over a channel that the loop empties
// with Drain once per tick.
package ops

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/rescale/rescale-files/internal/api"
	"github.com/rescale/rescale-files/internal/constants"
	"github.com/rescale/rescale-files/internal/events"
	"github.com/rescale/rescale-files/internal/logging"
)

// defaultResultBuffer is the result channel capacity. A full channel only
// delays the sending goroutine until the next Drain.
const defaultResultBuffer = 64

// Config holds the dispatcher's optional collaborators.
type Config struct {
	EventBus     *events.EventBus // Receives an OperationEvent per drained result
	Logger       *logging.Logger
	ResultBuffer int
}

// Dispatcher spawns remote operations and collects their results.
type Dispatcher struct {
	ctx      context.Context
	remote   Remote
	results  chan Result
	eventBus *events.EventBus
	logger   *logging.Logger

	nextID   atomic.Uint64
	inFlight atomic.Int64 // Spawned but not yet drained
}

// NewDispatcher creates a dispatcher whose operations run under ctx.
func NewDispatcher(ctx context.Context, remote Remote, cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = defaultResultBuffer
	}
	return &Dispatcher{
		ctx:      ctx,
		remote:   remote,
		results:  make(chan Result, cfg.ResultBuffer),
		eventBus: cfg.EventBus,
		logger:   cfg.Logger.Named("ops"),
	}
}

// Pending returns the number of operations whose result hasn't been drained.
func (d *Dispatcher) Pending() int {
	return int(d.inFlight.Load())
}

// Drain returns every result currently waiting, without blocking.
func (d *Dispatcher) Drain() []Result {
	var out []Result
	for {
		select {
		case r := <-d.results:
			d.inFlight.Add(-1)
			d.publish(r)
			out = append(out, r)
		default:
			return out
		}
	}
}

func (d *Dispatcher) publish(r Result) {
	if r.Ok {
		d.logger.Info().Uint64("op", r.ID).Str("kind", string(r.Op)).Str("target", r.Target).Msg(r.Message)
	} else {
		d.logger.Warn().Uint64("op", r.ID).Str("kind", string(r.Op)).Str("target", r.Target).Err(r.Err).Msg("operation failed")
	}
	if d.eventBus != nil {
		d.eventBus.PublishOperation(r.ID, string(r.Op), r.Target, r.Message, r.Err)
	}
}

// spawn runs fn on its own goroutine and sends exactly one result for it.
func (d *Dispatcher) spawn(kind Kind, target string, fn func(ctx context.Context, r *Result) error) uint64 {
	id := d.nextID.Add(1)
	d.inFlight.Add(1)
	d.logger.Debug().Uint64("op", id).Str("kind", string(kind)).Str("target", target).Msg("dispatching")

	go func() {
		r := Result{ID: id, Op: kind, Target: target}
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error().Msgf("PANIC in %s for %s: %v", kind, target, p)
				r.Ok = false
				r.Listing, r.File, r.NewID = nil, nil, ""
				r.Err = fmt.Errorf("panic: %v", p)
				r.Message = fmt.Sprintf("failed to %s %s: %v", kind, target, r.Err)
			}
			d.results <- r
		}()

		timeout := constants.APIContextTimeout
		if kind == KindUpload {
			timeout = constants.UploadContextTimeout
		}
		ctx, cancel := context.WithTimeout(d.ctx, timeout)
		defer cancel()

		if err := fn(ctx, &r); err != nil {
			r.Err = err
			r.Message = fmt.Sprintf("failed to %s %s: %v", kind, target, err)
			return
		}
		r.Ok = true
	}()
	return id
}

// Rename renames a file, or a folder when isFolder is set.
func (d *Dispatcher) Rename(id, oldName, newName string, isFolder bool) uint64 {
	return d.spawn(KindRename, oldName, func(ctx context.Context, r *Result) error {
		var err error
		if isFolder {
			err = d.remote.RenameFolder(ctx, id, newName)
		} else {
			err = d.remote.RenameFile(ctx, id, newName)
		}
		if err != nil {
			return err
		}
		r.Message = fmt.Sprintf("Renamed %s to %s", oldName, newName)
		return nil
	})
}

// Mkdir creates a folder named name under parentID.
func (d *Dispatcher) Mkdir(parentID, name string) uint64 {
	return d.spawn(KindMkdir, name, func(ctx context.Context, r *Result) error {
		newID, err := d.remote.CreateFolder(ctx, name, parentID)
		if err != nil {
			return err
		}
		r.NewID = newID
		r.Message = fmt.Sprintf("Created folder %s", name)
		return nil
	})
}

// Delete removes a file, or a folder when isFolder is set.
func (d *Dispatcher) Delete(id, name string, isFolder bool) uint64 {
	return d.spawn(KindDelete, name, func(ctx context.Context, r *Result) error {
		var err error
		if isFolder {
			err = d.remote.DeleteFolder(ctx, id)
		} else {
			err = d.remote.DeleteFile(ctx, id)
		}
		if err != nil {
			return err
		}
		r.Message = fmt.Sprintf("Deleted %s", name)
		return nil
	})
}

// Move puts a file into folderID.
func (d *Dispatcher) Move(fileID, name, folderID string) uint64 {
	return d.spawn(KindMove, name, func(ctx context.Context, r *Result) error {
		if err := d.remote.MoveFileToFolder(ctx, fileID, folderID); err != nil {
			return err
		}
		r.Message = fmt.Sprintf("Moved %s", name)
		return nil
	})
}

// Copy duplicates a file into folderID.
func (d *Dispatcher) Copy(fileID, name, folderID string) uint64 {
	return d.spawn(KindCopy, name, func(ctx context.Context, r *Result) error {
		f, err := d.remote.CopyFile(ctx, fileID, folderID)
		if err != nil {
			return err
		}
		r.File = f
		r.Message = fmt.Sprintf("Copied %s", name)
		return nil
	})
}

// Refresh lists folderID. An empty folderID lists the My Library root.
func (d *Dispatcher) Refresh(folderID string) uint64 {
	target := folderID
	if target == "" {
		target = "My Library"
	}
	return d.spawn(KindRefresh, target, func(ctx context.Context, r *Result) error {
		listing, err := listFolder(ctx, d.remote, folderID)
		if err != nil {
			return err
		}
		r.Listing = listing
		r.Message = fmt.Sprintf("Listed %d items in %s", len(listing.Items), target)
		return nil
	})
}

// Upload sends a local file into folderID. progress may be nil and is called
// from the operation's goroutine.
func (d *Dispatcher) Upload(localPath, folderID string, progress api.UploadProgress) uint64 {
	name := filepath.Base(localPath)
	return d.spawn(KindUpload, name, func(ctx context.Context, r *Result) error {
		f, err := d.remote.UploadFile(ctx, localPath, folderID, progress)
		if err != nil {
			return err
		}
		r.File = f
		r.Message = fmt.Sprintf("Uploaded %s", name)
		return nil
	})
}

func listFolder(ctx context.Context, remote Remote, folderID string) (*Listing, error) {
	if folderID == "" {
		roots, err := remote.GetRootFolders(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get root folders: %w", err)
		}
		folderID = roots.MyLibrary
	}

	contents, err := remote.ListFolderContents(ctx, folderID)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(contents.Folders)+len(contents.Files))
	for _, f := range contents.Folders {
		items = append(items, Item{ID: f.ID, Name: f.Name, IsFolder: true})
	}
	for _, f := range contents.Files {
		items = append(items, Item{ID: f.ID, Name: f.Name, Size: f.DecryptedSize})
	}
	return &Listing{FolderID: folderID, Items: items}, nil
}
