package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/rescale/rescale-files/internal/logging"
)

// Status tags written to the state file.
const (
	tagPending = "pending"
	tagPaused  = "paused"
	tagDone    = "done"
	tagFailed  = "failed"
)

// Record is one unfinished download in the state file.
type Record struct {
	TransferID  string `json:"transfer_id"`
	DisplayName string `json:"display_name"`
	TotalSize   int64  `json:"total_size"`
	Downloaded  int64  `json:"downloaded"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
}

// Store keeps unfinished downloads in a JSON file across restarts.
// Persistence is best effort: Load never fails, callers log Save errors.
type Store struct {
	path   string
	fs     afero.Fs
	logger *logging.Logger
}

// NewStore returns a store backed by path on fs (the OS filesystem if nil).
func NewStore(path string, fs afero.Fs, logger *logging.Logger) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{path: path, fs: fs, logger: logger}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// statusTag maps a task status to its on-disk tag. Done and cancelled tasks
// are not saved. Anything caught mid-flight is saved as paused so it never
// auto-starts.
func statusTag(status Status) (string, bool) {
	switch status {
	case StatusPending:
		return tagPending, true
	case StatusFailed:
		return tagFailed, true
	case StatusDownloading, StatusPaused:
		return tagPaused, true
	default:
		return "", false
	}
}

// Save writes every unfinished task. An empty set removes the file.
func (s *Store) Save(tasks []Snapshot) error {
	records := make([]Record, 0, len(tasks))
	for _, t := range tasks {
		tag, ok := statusTag(t.Status)
		if !ok {
			continue
		}
		records = append(records, Record{
			TransferID:  t.FileID,
			DisplayName: t.Name,
			TotalSize:   t.TotalSize,
			Downloaded:  t.Downloaded,
			Destination: t.Dest,
			Status:      tag,
		})
	}

	if len(records) == 0 {
		if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove state file: %w", err)
		}
		return nil
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves half a file
	tmpPath := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Int("tasks", len(records)).Msg("saved queue state")
	return nil
}

// Load reads saved downloads. A missing or unreadable file yields nothing.
func (s *Store) Load() []Record {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().Err(err).Str("path", s.path).Msg("ignoring unreadable queue state")
		}
		return nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Debug().Err(err).Str("path", s.path).Msg("ignoring malformed queue state")
		return nil
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Status == tagDone || r.TransferID == "" {
			continue
		}
		r.Status = tagPaused
		out = append(out, r)
	}
	return out
}
