// Package models holds the platform's JSON resource shapes.
package models

import "time"

// CloudFile represents a file stored in Rescale cloud storage
type CloudFile struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	TypeID          int        `json:"typeId"`
	IsUploaded      bool       `json:"isUploaded"`
	Owner           string     `json:"owner"`
	Path            string     `json:"path"`
	CurrentFolderID string     `json:"currentFolderId,omitempty"`
	DateUploaded    *time.Time `json:"dateUploaded,omitempty"`
	DecryptedSize   int64      `json:"decryptedSize,omitempty"`
}

// CloudFolder represents a folder in the user's library
type CloudFolder struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ParentFolderID string `json:"parentFolderId,omitempty"`
}

// FileListResponse represents the response from file list API
type FileListResponse struct {
	Count   int         `json:"count"`
	Next    *string     `json:"next"`
	Results []CloudFile `json:"results"`
}

// FolderContentsResponse is one page of GET /api/v3/folders/{id}/contents/.
// Each entry wraps a file or folder object under "item", discriminated by "type".
type FolderContentsResponse struct {
	Count   int                  `json:"count"`
	Next    *string              `json:"next"`
	Results []FolderContentEntry `json:"results"`
}

// FolderContentEntry is a single entry of a folder listing
type FolderContentEntry struct {
	Type string    `json:"type"` // "file" or "folder"
	Item CloudFile `json:"item"`
}

// DownloadURL is the response of the download-url endpoint.
type DownloadURL struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// RootFolders represents user's root folders
type RootFolders struct {
	MyJobs    string `json:"myJobs"`
	MyLibrary string `json:"myLibrary"`
}

// UserProfile represents a user's profile
type UserProfile struct {
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
}
