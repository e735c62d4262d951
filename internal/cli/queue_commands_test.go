package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/rescale/rescale-files/internal/pathutil"
	"github.com/rescale/rescale-files/internal/transfer"
)

func savedTasks() []transfer.Snapshot {
	return []transfer.Snapshot{
		{ID: "t1", FileID: "F1", Name: "mesh.geo", Dest: "/dl/mesh.geo", TotalSize: 1000, Downloaded: 250, Status: transfer.StatusPaused},
		{ID: "t2", FileID: "F2", Name: "run.log", Dest: "/dl/run.log", TotalSize: 0, Status: transfer.StatusPending},
		{ID: "t3", FileID: "F3", Name: "out.zip", Dest: "/dl/out.zip", TotalSize: 4096, Downloaded: 4096, Status: transfer.StatusPaused},
	}
}

// writeState saves tasks to a state file in a temp dir and points the
// --state-file flag at it.
func writeState(t *testing.T, tasks []transfer.Snapshot) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.json")
	require.NoError(t, transfer.NewStore(path, nil, nil).Save(tasks))
	useGlobals(t, filepath.Join(dir, "config"), "")
	stateFile = path
	return path
}

func TestResolveTaskRefs(t *testing.T) {
	tasks := savedTasks()

	ids, err := resolveTaskRefs(tasks, []string{"2", "F3", "1"})
	require.NoError(t, err)
	require.Equal(t, []string{"t2", "t3", "t1"}, ids)

	ids, err = resolveTaskRefs(tasks, []string{"1", "F1"})
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, ids, "duplicates collapse")

	_, err = resolveTaskRefs(tasks, []string{"4"})
	require.Error(t, err)

	_, err = resolveTaskRefs(tasks, []string{"0"})
	require.Error(t, err)

	_, err = resolveTaskRefs(tasks, []string{"NOPE"})
	require.True(t, errors.Is(err, transfer.ErrTaskNotFound))
}

func TestPrintTasks(t *testing.T) {
	var out bytes.Buffer
	printTasks(&out, savedTasks())
	got := out.String()

	require.Contains(t, got, "mesh.geo")
	require.Contains(t, got, "25.0%")
	require.Contains(t, got, "100.0%")
	require.Contains(t, got, "-> /dl/run.log")

	out.Reset()
	printTasks(&out, nil)
	require.Equal(t, "No saved downloads\n", out.String())
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestQueueListCommand(t *testing.T) {
	path := writeState(t, savedTasks())

	cmd := newQueueListCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	got := out.String()
	for _, name := range []string{"mesh.geo", "run.log", "out.zip"} {
		require.Contains(t, got, name)
	}
	// Everything restored from disk is paused.
	require.Equal(t, 3, strings.Count(got, "paused"))
	require.Contains(t, got, path)
}

func TestQueueRmCommand(t *testing.T) {
	path := writeState(t, savedTasks())

	cmd := newQueueRmCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"F2", "1"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "Removed 2")

	records := transfer.NewStore(path, nil, nil).Load()
	require.Len(t, records, 1)
	require.Equal(t, "F3", records[0].TransferID)
}

func TestQueueClearCommand(t *testing.T) {
	path := writeState(t, savedTasks())

	cmd := newQueueClearCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "Cleared 3")

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "state file should be removed")
}

func TestQueueResumeNeedsTarget(t *testing.T) {
	cmd := newQueueResumeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)
	require.Error(t, cmd.Execute())

	cmd = newQueueResumeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--all", "1"})
	require.Error(t, cmd.Execute())
}

func TestSplitSaved(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := transfer.NewStore("/state/queue.json", fs, nil)
	require.NoError(t, store.Save(savedTasks()[:1]))

	queue := transfer.NewQueue(nil, transfer.QueueConfig{Fs: fs})
	require.Equal(t, 1, queue.Restore(store))

	files := []pathutil.Download{
		{FileID: "F1", Name: "mesh.geo", Dest: "/dl/mesh.geo"},
		{FileID: "F9", Name: "new.dat", Dest: "/dl/new.dat", Size: 10},
	}
	reqs, resumed := splitSaved(queue, files)

	require.Equal(t, 1, resumed)
	require.Len(t, reqs, 1)
	require.Equal(t, "F9", reqs[0].FileID)
	require.Equal(t, int64(10), reqs[0].Size)

	tasks := queue.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, transfer.StatusPending, tasks[0].Status)
	require.Equal(t, int64(250), tasks[0].Downloaded, "resumed task keeps its offset")
}

func TestSplitSaved_DifferentDestination(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := transfer.NewStore("/state/queue.json", fs, nil)
	require.NoError(t, store.Save(savedTasks()[:1]))

	queue := transfer.NewQueue(nil, transfer.QueueConfig{Fs: fs})
	require.Equal(t, 1, queue.Restore(store))

	files := []pathutil.Download{{FileID: "F1", Name: "mesh.geo", Dest: "/other/mesh.geo", Size: 1000}}
	reqs, resumed := splitSaved(queue, files)

	require.Zero(t, resumed)
	require.Len(t, reqs, 1)
	require.Equal(t, "/other/mesh.geo", reqs[0].Dest)

	tasks := queue.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, transfer.StatusPaused, tasks[0].Status, "saved entry is left alone")
	require.Equal(t, "/dl/mesh.geo", tasks[0].Dest)
}
