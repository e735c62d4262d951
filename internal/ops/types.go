package ops

import (
	"context"

	"github.com/rescale/rescale-files/internal/api"
	"github.com/rescale/rescale-files/internal/models"
)

// Kind names a dispatched operation.
type Kind string

const (
	KindRename  Kind = "rename"
	KindMkdir   Kind = "mkdir"
	KindDelete  Kind = "delete"
	KindMove    Kind = "move"
	KindCopy    Kind = "copy"
	KindRefresh Kind = "refresh"
	KindUpload  Kind = "upload"
)

// Remote is the storage client the dispatcher delegates to.
// *api.Client satisfies it.
type Remote interface {
	GetRootFolders(ctx context.Context) (*models.RootFolders, error)
	ListFolderContents(ctx context.Context, folderID string) (*api.FolderContents, error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	RenameFile(ctx context.Context, fileID, newName string) error
	RenameFolder(ctx context.Context, folderID, newName string) error
	MoveFileToFolder(ctx context.Context, fileID, folderID string) error
	CopyFile(ctx context.Context, fileID, folderID string) (*models.CloudFile, error)
	DeleteFile(ctx context.Context, fileID string) error
	DeleteFolder(ctx context.Context, folderID string) error
	UploadFile(ctx context.Context, localPath, folderID string, progress api.UploadProgress) (*models.CloudFile, error)
}

var _ Remote = (*api.Client)(nil)

// Result is the outcome of one operation. Message is always set for display;
// Err is set only when !Ok.
type Result struct {
	ID      uint64
	Op      Kind
	Target  string // Display name of what was acted on
	Ok      bool
	Message string
	Err     error

	Listing *Listing          // Refresh only
	File    *models.CloudFile // Copy and Upload only
	NewID   string            // Mkdir only
}

// Item is one entry of a folder listing.
type Item struct {
	ID       string
	Name     string
	IsFolder bool
	Size     int64 // 0 for folders
}

// Listing is the contents of one remote folder, folders first.
type Listing struct {
	FolderID string
	Items    []Item
}

// Files returns the number of file entries.
func (l *Listing) Files() int {
	n := 0
	for _, it := range l.Items {
		if !it.IsFolder {
			n++
		}
	}
	return n
}
