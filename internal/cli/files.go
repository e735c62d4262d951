package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rescale/rescale-files/internal/api"
	"github.com/rescale/rescale-files/internal/ops"
	"github.com/rescale/rescale-files/internal/progress"
	"github.com/rescale/rescale-files/internal/util/filter"
)

// runOps opens a session, lets dispatch start background operations, runs
// the loop until they all report, and returns the results in completion
// order. The first failure is returned as the error, after every result has
// been printed.
func runOps(out io.Writer, dispatch func(d *ops.Dispatcher)) ([]ops.Result, error) {
	s, err := openSession(nil)
	if err != nil {
		return nil, err
	}
	defer s.close()

	var results []ops.Result
	s.app.SetResultHandler(func(r ops.Result) {
		results = append(results, r)
		if r.Op == ops.KindRefresh {
			return
		}
		if r.Ok {
			fmt.Fprintf(out, "✓ %s\n", r.Message)
		} else {
			fmt.Fprintf(out, "✗ %s\n", r.Message)
		}
	})

	dispatch(s.app.Dispatcher())
	if err := s.run(); err != nil {
		return results, err
	}

	for _, r := range results {
		if !r.Ok {
			return results, r.Err
		}
	}
	return results, nil
}

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	var idsOnly bool
	var include, exclude, search string

	cmd := &cobra.Command{
		Use:   "ls [folder-id]",
		Short: "List a remote folder",
		Long: `List the contents of a folder in Rescale cloud storage.
Without a folder ID the My Library root is listed. Folders come first.

Examples:
  rescale-files ls
  rescale-files ls abc123
  rescale-files ls abc123 --ids
  rescale-files ls abc123 --include "*.dat,*.log" --exclude "debug*"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folderID := ""
			if len(args) == 1 {
				folderID = args[0]
			}
			out := cmd.OutOrStdout()

			results, err := runOps(out, func(d *ops.Dispatcher) {
				d.Refresh(folderID)
			})
			if err != nil {
				return err
			}
			if len(results) != 1 || results[0].Listing == nil {
				return fmt.Errorf("no listing returned")
			}
			listing := results[0].Listing
			if f := filter.New(include, exclude, search); !f.Empty() {
				total := len(listing.Items)
				listing = filterListing(listing, f)
				if !idsOnly {
					fmt.Fprintf(out, "Filtered: %d of %d entries match filters\n", len(listing.Items), total)
				}
			}
			printListing(out, listing, idsOnly)
			return nil
		},
	}

	cmd.Flags().BoolVar(&idsOnly, "ids", false, "Print only IDs, one per line")
	addFilterFlags(cmd, &include, &exclude, &search)

	return cmd
}

// addFilterFlags registers the name filter flags shared by ls and get.
func addFilterFlags(cmd *cobra.Command, include, exclude, search *string) {
	cmd.Flags().StringVar(include, "include", "", "Include only names matching these patterns (comma-separated globs, e.g. \"*.dat,*.log\")")
	cmd.Flags().StringVar(exclude, "exclude", "", "Exclude names matching these patterns (comma-separated globs, e.g. \"debug*,temp*\")")
	cmd.Flags().StringVar(search, "search", "", "Include only names containing all of these terms (comma-separated, case-insensitive)")
}

// filterListing keeps the entries whose names pass f.
func filterListing(l *ops.Listing, f filter.Config) *ops.Listing {
	out := &ops.Listing{FolderID: l.FolderID}
	for _, it := range l.Items {
		if f.Match(it.Name) {
			out.Items = append(out.Items, it)
		}
	}
	return out
}

// printListing writes a folder listing as a table, or just the IDs.
func printListing(out io.Writer, l *ops.Listing, idsOnly bool) {
	if idsOnly {
		for _, it := range l.Items {
			fmt.Fprintln(out, it.ID)
		}
		return
	}
	if len(l.Items) == 0 {
		fmt.Fprintln(out, "Folder is empty")
		return
	}

	fmt.Fprintf(out, "%-6s %-24s %-40s %s\n", "TYPE", "ID", "NAME", "SIZE")
	fmt.Fprintln(out, strings.Repeat("-", 84))
	for _, it := range l.Items {
		kind, size := "file", humanize.IBytes(uint64(it.Size))
		if it.IsFolder {
			kind, size = "dir", "-"
		}
		fmt.Fprintf(out, "%-6s %-24s %-40s %s\n", kind, it.ID, it.Name, size)
	}
	folders := len(l.Items) - l.Files()
	fmt.Fprintf(out, "\n%d folder(s), %d file(s)\n", folders, l.Files())
}

// newMkdirCmd creates the 'mkdir' command.
func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <parent-folder-id> <name>",
		Short: "Create a remote folder",
		Long: `Create a folder inside an existing folder and print its ID.

Example:
  rescale-files mkdir abc123 results`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			results, err := runOps(out, func(d *ops.Dispatcher) {
				d.Mkdir(args[0], args[1])
			})
			if err != nil {
				return err
			}
			if len(results) == 1 && results[0].NewID != "" {
				fmt.Fprintf(out, "  Folder ID: %s\n", results[0].NewID)
			}
			return nil
		},
	}
}

// newMvCmd creates the 'mv' command.
func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <file-id>... <folder-id>",
		Short: "Move files into a folder",
		Long: `Move one or more files into a folder. Moves run in the background
and report individually.

Example:
  rescale-files mv f1 f2 f3 abc123`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileIDs, folderID := args[:len(args)-1], args[len(args)-1]
			_, err := runOps(cmd.OutOrStdout(), func(d *ops.Dispatcher) {
				for _, id := range fileIDs {
					d.Move(id, id, folderID)
				}
			})
			return err
		},
	}
}

// newCpCmd creates the 'cp' command.
func newCpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <file-id>... <folder-id>",
		Short: "Copy files into a folder",
		Long: `Copy one or more files into a folder. The copies get new file IDs.

Example:
  rescale-files cp f1 f2 abc123`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileIDs, folderID := args[:len(args)-1], args[len(args)-1]
			out := cmd.OutOrStdout()
			results, err := runOps(out, func(d *ops.Dispatcher) {
				for _, id := range fileIDs {
					d.Copy(id, id, folderID)
				}
			})
			for _, r := range results {
				if r.Ok && r.File != nil {
					fmt.Fprintf(out, "  %s -> %s\n", r.Target, r.File.ID)
				}
			}
			return err
		},
	}
}

// newRenameCmd creates the 'rename' command.
func newRenameCmd() *cobra.Command {
	var isFolder bool

	cmd := &cobra.Command{
		Use:   "rename <id> <new-name>",
		Short: "Rename a remote file or folder",
		Long: `Rename a file, or a folder with --folder.

Examples:
  rescale-files rename f1 mesh-v2.geo
  rescale-files rename abc123 archive --folder`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runOps(cmd.OutOrStdout(), func(d *ops.Dispatcher) {
				d.Rename(args[0], args[0], args[1], isFolder)
			})
			return err
		},
	}

	cmd.Flags().BoolVar(&isFolder, "folder", false, "The ID refers to a folder")

	return cmd
}

// newRmCmd creates the 'rm' command.
func newRmCmd() *cobra.Command {
	var isFolder bool
	var confirm bool

	cmd := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete remote files or folders",
		Long: `Delete one or more files, or folders with --folder.

WARNING: This operation cannot be undone!

Examples:
  # Delete files (will prompt for confirmation)
  rescale-files rm f1 f2

  # Delete a folder without the prompt
  rescale-files rm abc123 --folder --confirm`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !confirm {
				what := "file(s)"
				if isFolder {
					what = "folder(s)"
				}
				fmt.Fprintf(out, "You are about to delete %d %s. This cannot be undone.\n", len(args), what)
				fmt.Fprint(out, "Are you sure? (yes/no): ")
				response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.TrimSpace(response) != "yes" {
					fmt.Fprintln(out, "Deletion cancelled")
					return nil
				}
			}

			_, err := runOps(out, func(d *ops.Dispatcher) {
				for _, id := range args {
					d.Delete(id, id, isFolder)
				}
			})
			return err
		},
	}

	cmd.Flags().BoolVar(&isFolder, "folder", false, "The IDs refer to folders")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Skip confirmation prompt")

	return cmd
}

// newPutCmd creates the 'put' command.
func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "put <local-file> <folder-id>",
		Aliases: []string{"upload"},
		Short:   "Upload a local file into a folder",
		Long: `Upload one local file into a Rescale folder and print the new file ID.
Failed uploads are retried from the start.

Example:
  rescale-files put ./mesh.geo abc123`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPath, folderID := args[0], args[1]
			info, err := os.Stat(localPath)
			if err != nil {
				return fmt.Errorf("cannot read %s: %w", localPath, err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", localPath)
			}

			out := cmd.OutOrStdout()
			bar := progress.NewUploadBar(os.Stderr, filepath.Base(localPath), info.Size(), progress.IsTerminal(os.Stderr))
			results, err := runOps(out, func(d *ops.Dispatcher) {
				d.Upload(localPath, folderID, bar.Update)
			})
			if err != nil {
				bar.Fail(nil)
				if api.IsFileExistsError(err) {
					return fmt.Errorf("%s already exists in folder %s; rename or delete the remote copy first", filepath.Base(localPath), folderID)
				}
				return err
			}
			bar.Finish()
			if len(results) == 1 && results[0].File != nil {
				fmt.Fprintf(out, "  File ID: %s\n", results[0].File.ID)
			}
			return nil
		},
	}
}
