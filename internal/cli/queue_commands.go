package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rescale/rescale-files/internal/config"
	"github.com/rescale/rescale-files/internal/transfer"
)

// newQueueCmd creates the 'queue' command group.
func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and continue saved downloads",
		Long: `Downloads that were paused or interrupted are saved in the queue state
file and restored as paused the next time the queue runs.

Tasks are referenced by their position in 'queue list' or by file ID.

Commands:
  list    - Show saved downloads
  resume  - Continue saved downloads
  rm      - Forget saved downloads (partial files are kept)
  clear   - Forget all saved downloads`,
	}

	queueCmd.AddCommand(newQueueListCmd())
	queueCmd.AddCommand(newQueueResumeCmd())
	queueCmd.AddCommand(newQueueRmCmd())
	queueCmd.AddCommand(newQueueClearCmd())

	return queueCmd
}

// openSavedQueue loads the state file into a queue that is never scheduled,
// for commands that only read or edit saved work and need no API key.
func openSavedQueue() (*transfer.Queue, *transfer.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateLocal(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	queue, store := loadSavedQueue(cfg)
	return queue, store, nil
}

func loadSavedQueue(cfg *config.Config) (*transfer.Queue, *transfer.Store) {
	log := GetLogger()
	store := transfer.NewStore(cfg.StateFile, nil, log.Named("store"))
	queue := transfer.NewQueue(nil, transfer.QueueConfig{Logger: log.Named("queue")})
	queue.Restore(store)
	return queue, store
}

// resolveTaskRefs maps 1-based positions or file IDs to distinct task IDs.
func resolveTaskRefs(tasks []transfer.Snapshot, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, ref := range refs {
		if n, err := strconv.Atoi(ref); err == nil {
			if n < 1 || n > len(tasks) {
				return nil, fmt.Errorf("no queued download at position %d (have %d)", n, len(tasks))
			}
			add(tasks[n-1].ID)
			continue
		}
		found := false
		for _, t := range tasks {
			if t.FileID == ref {
				add(t.ID)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("no queued download for file %s: %w", ref, transfer.ErrTaskNotFound)
		}
	}
	return ids, nil
}

// printTasks writes the queue as a table.
func printTasks(out io.Writer, tasks []transfer.Snapshot) {
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No saved downloads")
		return
	}
	fmt.Fprintf(out, "%-4s %-20s %-36s %-11s %7s %s\n", "#", "FILE ID", "NAME", "STATUS", "DONE", "SIZE")
	fmt.Fprintln(out, strings.Repeat("-", 96))
	for i, t := range tasks {
		size := "?"
		if t.TotalSize > 0 {
			size = humanize.IBytes(uint64(t.TotalSize))
		}
		fmt.Fprintf(out, "%-4d %-20s %-36s %-11s %6.1f%% %s\n",
			i+1, t.FileID, truncate(t.Name, 36), t.Status, t.Progress()*100, size)
		fmt.Fprintf(out, "     -> %s\n", t.Dest)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// newQueueListCmd creates the 'queue list' command.
func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show saved downloads",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, store, err := openSavedQueue()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printTasks(out, queue.Tasks())
			fmt.Fprintf(out, "\nState file: %s\n", store.Path())
			return nil
		},
	}
}

// newQueueResumeCmd creates the 'queue resume' command.
func newQueueResumeCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "resume [position|file-id]...",
		Short: "Continue saved downloads",
		Long: `Continue saved downloads one at a time, in queue order. Partial files
are resumed from where they stopped. The same keys as 'get' control
the run: p pause/resume, c cancel, r retry failed, d clear finished,
q stop.

Examples:
  rescale-files queue resume --all
  rescale-files queue resume 2 3
  rescale-files queue resume f1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("give task positions or file IDs, or --all")
			}

			r, err := openQueueRun()
			if err != nil {
				return err
			}
			defer r.close()

			queue := r.app.Queue()
			if all {
				if queue.ResumeAll() == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No saved downloads")
					return nil
				}
			} else {
				ids, err := resolveTaskRefs(queue.Tasks(), args)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := queue.Resume(id); err != nil {
						return err
					}
				}
			}

			if err := r.download(); err != nil {
				return err
			}
			return r.summarize(cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Resume every saved download")

	return cmd
}

// newQueueRmCmd creates the 'queue rm' command.
func newQueueRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <position|file-id>...",
		Short: "Forget saved downloads",
		Long: `Remove downloads from the saved queue. Partially written files are
left on disk.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, store, err := openSavedQueue()
			if err != nil {
				return err
			}
			ids, err := resolveTaskRefs(queue.Tasks(), args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := queue.Remove(id); err != nil {
					return err
				}
			}
			if err := queue.Save(store); err != nil {
				return fmt.Errorf("failed to save queue: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d download(s)\n", len(ids))
			return nil
		},
	}
}

// newQueueClearCmd creates the 'queue clear' command.
func newQueueClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget all saved downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, store, err := openSavedQueue()
			if err != nil {
				return err
			}
			n := len(queue.Tasks())
			if err := store.Save(nil); err != nil {
				return fmt.Errorf("failed to clear queue: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d saved download(s)\n", n)
			return nil
		},
	}
}
