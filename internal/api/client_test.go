package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rescale/rescale-files/internal/config"
	"github.com/rescale/rescale-files/internal/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.New()
	cfg.APIBaseURL = srv.URL
	cfg.APIKey = "test-key"

	client, err := NewClient(cfg, logging.Nop())
	require.NoError(t, err)
	return client, srv
}

// TestNewClientRejectsEmptyBaseURL verifies that NewClient fails with a clear error
// when APIBaseURL is empty, instead of creating a broken client that produces
// "unsupported protocol scheme" errors on every request.
func TestNewClientRejectsEmptyBaseURL(t *testing.T) {
	cfg := &config.Config{
		APIBaseURL: "",
		APIKey:     "test-key",
		ProxyMode:  "no-proxy",
	}

	_, err := NewClient(cfg, nil)
	if err == nil {
		t.Fatal("NewClient() should return error for empty APIBaseURL")
	}

	if !strings.Contains(err.Error(), "API base URL is empty") {
		t.Errorf("error = %q, want mention of empty base URL", err)
	}
}

func TestListFolderContentsFollowsPagination(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/folders/f1/contents/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"next":null,"results":[{"type":"file","item":{"id":"b","name":"b.dat","decryptedSize":20}}]}`)
			return
		}
		fmt.Fprintf(w, `{"next":%q,"results":[
			{"type":"folder","item":{"id":"sub","name":"inputs"}},
			{"type":"file","item":{"id":"a","name":"a.dat","decryptedSize":10}},
			{"type":"job","item":{"id":"x"}}
		]}`, srvURL+"/api/v3/folders/f1/contents/?page=2")
	})
	client, srv := newTestClient(t, mux)
	srvURL = srv.URL

	contents, err := client.ListFolderContents(context.Background(), "f1")
	require.NoError(t, err)
	require.Equal(t, []FolderInfo{{ID: "sub", Name: "inputs"}}, contents.Folders)
	require.Equal(t, []FileInfo{
		{ID: "a", Name: "a.dat", DecryptedSize: 10},
		{ID: "b", Name: "b.dat", DecryptedSize: 20},
	}, contents.Files)
}

func TestResolveDownload(t *testing.T) {
	t.Run("download url endpoint", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/files/f1/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id":"f1","name":"out.dat","decryptedSize":1000}`)
		})
		mux.HandleFunc("/api/v3/files/f1/download-url/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"url":"https://storage.example.com/abc?sig=1"}`)
		})
		client, _ := newTestClient(t, mux)

		u, size, err := client.ResolveDownload(context.Background(), "f1")
		require.NoError(t, err)
		require.Equal(t, "https://storage.example.com/abc?sig=1", u)
		require.Equal(t, int64(1000), size)
	})

	t.Run("falls back to contents endpoint", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/files/f1/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id":"f1","decryptedSize":7}`)
		})
		client, srv := newTestClient(t, mux)

		u, size, err := client.ResolveDownload(context.Background(), "f1")
		require.NoError(t, err)
		require.Equal(t, srv.URL+"/api/v3/files/f1/contents/", u)
		require.Equal(t, int64(7), size)
	})

	t.Run("missing file", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())

		_, _, err := client.ResolveDownload(context.Background(), "nope")
		require.Error(t, err)
		require.True(t, IsNotFound(err))

		var se *StatusError
		require.True(t, errors.As(err, &se))
		require.Equal(t, "get file info", se.Op)
	})
}

func TestGetSendsRangeAndScopesToken(t *testing.T) {
	var storageAuth, storageRange atomic.Value
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		storageAuth.Store(r.Header.Get("Authorization"))
		storageRange.Store(r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer storage.Close()

	var platformAuth atomic.Value
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		platformAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))

	resp, err := client.Get(context.Background(), storage.URL+"/blob", 500)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "", storageAuth.Load())
	require.Equal(t, "bytes=500-", storageRange.Load())

	resp, err = client.Get(context.Background(), srv.URL+"/api/v3/files/f1/contents/", 0)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "Token test-key", platformAuth.Load())
}

func TestFileAndFolderMutations(t *testing.T) {
	type call struct {
		method string
		path   string
		body   map[string]interface{}
	}
	var mu sync.Mutex
	var calls []call

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, body})
		mu.Unlock()

		switch {
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/copy/"):
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":"copy-1","name":"a.dat","currentFolderId":"dst"}`)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":"new-folder"}`)
		default:
			fmt.Fprint(w, `{}`)
		}
	}))
	ctx := context.Background()

	require.NoError(t, client.RenameFile(ctx, "f1", "renamed.dat"))
	require.NoError(t, client.RenameFolder(ctx, "d1", "renamed"))
	require.NoError(t, client.MoveFileToFolder(ctx, "f1", "d2"))
	copied, err := client.CopyFile(ctx, "f1", "dst")
	require.NoError(t, err)
	require.Equal(t, "copy-1", copied.ID)
	id, err := client.CreateFolder(ctx, "inputs", "root")
	require.NoError(t, err)
	require.Equal(t, "new-folder", id)
	require.NoError(t, client.DeleteFile(ctx, "f1"))
	require.NoError(t, client.DeleteFolder(ctx, "d1"))

	want := []call{
		{http.MethodPatch, "/api/v3/files/f1/", map[string]interface{}{"name": "renamed.dat"}},
		{http.MethodPatch, "/api/v3/folders/d1/", map[string]interface{}{"name": "renamed"}},
		{http.MethodPatch, "/api/v3/files/f1/", map[string]interface{}{"currentFolderId": "d2"}},
		{http.MethodPost, "/api/v3/files/f1/copy/", map[string]interface{}{"folderId": "dst"}},
		{http.MethodPost, "/api/v3/folders/root/", map[string]interface{}{"name": "inputs"}},
		{http.MethodDelete, "/api/v3/files/f1/", nil},
		{http.MethodDelete, "/api/v3/folders/d1/", nil},
	}
	require.Equal(t, want, calls)
}

func TestMutationErrorsCarryStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"detail":"not yours"}`)
	}))

	err := client.DeleteFile(context.Background(), "f1")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusForbidden, se.StatusCode())
	require.Contains(t, err.Error(), "not yours")
}

func TestUploadFile(t *testing.T) {
	content := strings.Repeat("rescale", 1000)
	local := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(local, []byte(content), 0o600))

	var moved atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/files/contents/", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		got, _ := io.ReadAll(file)
		if string(got) != content || header.Filename != "input.txt" {
			http.Error(w, "content mismatch", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"up-1","name":"input.txt","currentFolderId":"library"}`)
	})
	mux.HandleFunc("/api/v3/files/up-1/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		moved.Store(body["currentFolderId"])
		fmt.Fprint(w, `{}`)
	})
	client, _ := newTestClient(t, mux)

	var lastSent, lastTotal int64
	file, err := client.UploadFile(context.Background(), local, "inputs", func(sent, total int64) {
		lastSent, lastTotal = sent, total
	})
	require.NoError(t, err)
	require.Equal(t, "up-1", file.ID)
	require.Equal(t, "inputs", file.CurrentFolderID)
	require.Equal(t, "inputs", moved.Load())
	require.Equal(t, int64(len(content)), lastSent)
	require.Equal(t, int64(len(content)), lastTotal)
}

func TestUploadFileConflict(t *testing.T) {
	local := filepath.Join(t.TempDir(), "dup.txt")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o600))

	var attempts atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"detail":"a file with this name already exists"}`)
	}))

	_, err := client.UploadFile(context.Background(), local, "", nil)
	require.Error(t, err)
	require.True(t, IsFileExistsError(err))
	require.Equal(t, int32(1), attempts.Load(), "conflicts are not retried")
}

func TestUploadFileRejectsDirectory(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())
	_, err := client.UploadFile(context.Background(), t.TempDir(), "", nil)
	require.Error(t, err)
}

func TestThrottledResponseDrainsLimiter(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"myLibrary":"lib","myJobs":"jobs"}`)
	}))

	folders, err := client.GetRootFolders(context.Background())
	require.NoError(t, err)
	require.Equal(t, "lib", folders.MyLibrary)
	require.Equal(t, int32(2), calls.Load())
	require.Less(t, client.limiter.Available(), 10.0)
}

func TestIsFileExistsError(t *testing.T) {
	require.False(t, IsFileExistsError(nil))
	require.True(t, IsFileExistsError(ErrFileAlreadyExists))
	require.True(t, IsFileExistsError(&StatusError{Op: "upload file", Code: http.StatusConflict}))
	require.True(t, IsFileExistsError(errors.New("Duplicate name")))
	require.False(t, IsFileExistsError(errors.New("permission denied")))
}
