package transfer

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func snapshotWith(fileID string, status Status, total, downloaded int64) Snapshot {
	t := NewTask(fileID, fileID+".dat", "/dl/"+fileID+".dat", total)
	t.Status = status
	t.Downloaded = downloaded
	return t.Snapshot()
}

func TestStore_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore("/cfg/queue.json", fs, nil)

	in := []Snapshot{
		snapshotWith("pending", StatusPending, 100, 0),
		snapshotWith("active", StatusDownloading, 1000, 400),
		snapshotWith("paused", StatusPaused, 50, 10),
		snapshotWith("done", StatusDone, 10, 10),
		snapshotWith("failed", StatusFailed, 0, 0),
		snapshotWith("cancelled", StatusCancelled, 80, 20),
	}
	require.NoError(t, store.Save(in))

	out := store.Load()
	require.Len(t, out, 4)

	byID := map[string]Record{}
	for _, r := range out {
		byID[r.TransferID] = r
		require.Equal(t, tagPaused, r.Status, "every loaded record is paused")
	}
	require.NotContains(t, byID, "done")
	require.NotContains(t, byID, "cancelled")

	active := byID["active"]
	require.Equal(t, "active.dat", active.DisplayName)
	require.Equal(t, int64(1000), active.TotalSize)
	require.Equal(t, int64(400), active.Downloaded)
	require.Equal(t, "/dl/active.dat", active.Destination)
}

func TestStore_SaveTags(t *testing.T) {
	tests := []struct {
		status Status
		tag    string
		saved  bool
	}{
		{StatusPending, "pending", true},
		{StatusDownloading, "paused", true},
		{StatusPaused, "paused", true},
		{StatusCancelled, "", false},
		{StatusFailed, "failed", true},
		{StatusDone, "", false},
	}
	for _, tt := range tests {
		tag, saved := statusTag(tt.status)
		require.Equal(t, tt.saved, saved, string(tt.status))
		require.Equal(t, tt.tag, tag, string(tt.status))
	}
}

func TestStore_EmptyRemovesFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore("/cfg/queue.json", fs, nil)

	require.NoError(t, store.Save([]Snapshot{snapshotWith("a", StatusPending, 1, 0)}))
	exists, _ := afero.Exists(fs, store.Path())
	require.True(t, exists)

	require.NoError(t, store.Save([]Snapshot{snapshotWith("a", StatusDone, 1, 1)}))
	exists, _ = afero.Exists(fs, store.Path())
	require.False(t, exists, "state file should be removed when nothing is unfinished")

	// Removing an already absent file is fine.
	require.NoError(t, store.Save(nil))

	tmpExists, _ := afero.Exists(fs, store.Path()+".tmp")
	require.False(t, tmpExists)
}

func TestStore_LoadMissingOrMalformed(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore("/cfg/queue.json", fs, nil)
	require.Empty(t, store.Load())

	require.NoError(t, afero.WriteFile(fs, store.Path(), []byte("{not json"), 0o600))
	require.Empty(t, store.Load())

	require.NoError(t, afero.WriteFile(fs, store.Path(), []byte(`{"transfer_id":"x"}`), 0o600))
	require.Empty(t, store.Load())
}

func TestStore_LoadSkipsDoneAndBlank(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore("/cfg/queue.json", fs, nil)

	data := `[
	  {"transfer_id":"a","display_name":"a","total_size":10,"downloaded":5,"destination":"/dl/a","status":"failed"},
	  {"transfer_id":"b","display_name":"b","total_size":10,"downloaded":10,"destination":"/dl/b","status":"done"},
	  {"transfer_id":"","display_name":"?","status":"pending"},
	  {"transfer_id":"c","display_name":"c","destination":"/dl/c","status":"something-new"}
	]`
	require.NoError(t, afero.WriteFile(fs, store.Path(), []byte(data), 0o600))

	out := store.Load()
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].TransferID)
	require.Equal(t, "paused", out[0].Status)
	require.Equal(t, "c", out[1].TransferID)
	require.Equal(t, "paused", out[1].Status)
}
