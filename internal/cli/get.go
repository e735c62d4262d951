package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-files/internal/constants"
	"github.com/rescale/rescale-files/internal/ops"
	"github.com/rescale/rescale-files/internal/pathutil"
	"github.com/rescale/rescale-files/internal/progress"
	"github.com/rescale/rescale-files/internal/transfer"
	"github.com/rescale/rescale-files/internal/util/filter"
)

// queueRun is a session with the download UI attached to its event bus.
type queueRun struct {
	*session
	ui      *progress.QueueUI
	watched chan struct{}
}

// openQueueRun opens a session whose log lines print above the progress bars.
func openQueueRun() (*queueRun, error) {
	ui := progress.NewQueueUI(os.Stderr, progress.IsTerminal(os.Stderr))
	s, err := openSession(ui.Writer())
	if err != nil {
		ui.Close()
		return nil, err
	}
	r := &queueRun{session: s, ui: ui, watched: make(chan struct{})}
	ch := s.app.Events().SubscribeAll()
	go func() {
		defer close(r.watched)
		r.ui.Watch(ch)
	}()
	return r, nil
}

// close saves the queue, then waits for the UI to drain the closed bus.
func (r *queueRun) close() {
	r.session.close()
	<-r.watched
	r.ui.Close()
}

// download runs the queue with key controls attached when both stdin and
// the progress display are terminals.
func (r *queueRun) download() error {
	if r.ui.IsTerminal() {
		keys := startKeys(os.Stdin, r.app.Queue(), r.ui.Writer(), r.log, func() { interrupt("stop key") })
		defer keys.stop()
	}
	return r.run()
}

// summarize prints the outcome and returns an error if anything failed.
func (r *queueRun) summarize(out io.Writer) error {
	stats := r.app.Queue().Stats()
	fmt.Fprintf(out, "\n%d downloaded", stats.Done)
	if stats.Failed > 0 {
		fmt.Fprintf(out, ", %d failed", stats.Failed)
	}
	if stats.Cancelled > 0 {
		fmt.Fprintf(out, ", %d cancelled", stats.Cancelled)
	}
	fmt.Fprintln(out)
	if stats.Paused > 0 {
		fmt.Fprintf(out, "%d paused download(s) saved; continue with 'rescale-files queue resume'\n", stats.Paused)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d download(s) failed", stats.Failed)
	}
	return nil
}

// newGetCmd creates the 'get' command.
func newGetCmd() *cobra.Command {
	var outDir, fromFolder string
	var include, exclude, search string

	cmd := &cobra.Command{
		Use:     "get <file-id>... | --from-folder <folder-id>",
		Aliases: []string{"download"},
		Short:   "Download files through the queue",
		Long: `Download one or more files. Files are fetched one at a time in the order
given. A partial file is resumed from where it stopped.

Files with the same name get their file ID added before the extension.
Downloads still unfinished when the command stops (Ctrl+C) are saved
and can be continued with 'queue resume'. Asking for a file that is
already saved in the queue for the same destination resumes that entry
instead of adding another; a different output directory starts a new
download and leaves the saved one alone.

While downloads run in a terminal: p pauses or resumes the current
file, c cancels it, r retries failed files, d clears finished ones and
q (or Ctrl+C) stops.

With --from-folder every file directly inside the folder is queued,
narrowed by --include, --exclude and --search. Subfolders are skipped.

Examples:
  rescale-files get f1 f2
  rescale-files get f1 -o ./results
  rescale-files get --from-folder abc123 --include "*.dat"`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && fromFolder == "" {
				return fmt.Errorf("requires at least one file ID or --from-folder")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openQueueRun()
			if err != nil {
				return err
			}
			defer r.close()

			dir := outDir
			if dir == "" {
				dir = r.cfg.DownloadDir
			}
			dir, err = pathutil.ResolveAbsolutePath(dir)
			if err != nil {
				return fmt.Errorf("invalid output directory: %w", err)
			}

			files, err := r.lookupFiles(args)
			if err != nil {
				return err
			}
			if fromFolder != "" {
				listed, err := r.folderFiles(fromFolder, filter.New(include, exclude, search))
				if err != nil {
					return err
				}
				have := make(map[string]bool, len(files))
				for _, f := range files {
					have[f.FileID] = true
				}
				for _, f := range listed {
					if !have[f.FileID] {
						files = append(files, f)
					}
				}
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No files to download")
				return nil
			}
			planned, collisions := pathutil.PlanDownloads(dir, files)
			if collisions > 0 {
				r.log.Warn().Int("files", collisions).Msg("duplicate names; file IDs added to local names")
			}

			queue := r.app.Queue()
			reqs, resumed := splitSaved(queue, planned)
			queue.EnqueueBatch(reqs)
			if resumed > 0 {
				fmt.Fprintf(r.ui.Writer(), "Resuming %d saved download(s)\n", resumed)
			}

			if err := r.download(); err != nil {
				return err
			}
			return r.summarize(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", "", "Output directory (default: download_dir from config)")
	cmd.Flags().StringVar(&fromFolder, "from-folder", "", "Queue every file in this folder")
	addFilterFlags(cmd, &include, &exclude, &search)

	return cmd
}

// lookupFiles fetches name and size for each distinct file ID.
func (r *queueRun) lookupFiles(ids []string) ([]pathutil.Download, error) {
	files := make([]pathutil.Download, 0, len(ids))
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		ctx, cancel := context.WithTimeout(GetContext(), constants.APIContextTimeout)
		info, err := r.client.GetFileInfo(ctx, id)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s: %w", id, err)
		}
		files = append(files, pathutil.Download{
			FileID: id,
			Name:   info.Name,
			Size:   info.DecryptedSize,
		})
	}
	return files, nil
}

// folderFiles lists a folder through the dispatcher and returns the files
// that pass f.
func (r *queueRun) folderFiles(folderID string, f filter.Config) ([]pathutil.Download, error) {
	var listing *ops.Listing
	var listErr error
	r.app.SetResultHandler(func(res ops.Result) {
		if res.Op == ops.KindRefresh {
			listing, listErr = res.Listing, res.Err
		}
	})
	defer r.app.SetResultHandler(nil)

	r.app.Dispatcher().Refresh(folderID)
	if err := r.run(); err != nil {
		return nil, err
	}
	if listErr != nil {
		return nil, listErr
	}
	if listing == nil {
		return nil, fmt.Errorf("no listing returned for folder %s", folderID)
	}

	var files []pathutil.Download
	for _, it := range listing.Items {
		if it.IsFolder || !f.Match(it.Name) {
			continue
		}
		files = append(files, pathutil.Download{FileID: it.ID, Name: it.Name, Size: it.Size})
	}
	return files, nil
}

// splitSaved resumes saved tasks for files already in the queue at the same
// destination and returns requests for the rest. Two tasks writing one
// destination would corrupt each other's resume offset. A saved task with a
// different destination is left paused and the file is queued again.
func splitSaved(queue *transfer.Queue, files []pathutil.Download) ([]transfer.Request, int) {
	saved := make(map[string]transfer.Snapshot)
	for _, s := range queue.Tasks() {
		if s.Status == transfer.StatusPaused {
			saved[s.FileID] = s
		}
	}

	var reqs []transfer.Request
	resumed := 0
	for _, f := range files {
		if s, ok := saved[f.FileID]; ok && filepath.Clean(s.Dest) == filepath.Clean(f.Dest) {
			if queue.Resume(s.ID) == nil {
				resumed++
			}
			delete(saved, f.FileID)
			continue
		}
		reqs = append(reqs, transfer.Request{FileID: f.FileID, Name: f.Name, Dest: f.Dest, Size: f.Size})
	}
	return reqs, resumed
}
