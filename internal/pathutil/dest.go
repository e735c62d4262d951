package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Download is one remote file and where it will land.
type Download struct {
	FileID string
	Name   string // Remote display name
	Dest   string // Local destination path
	Size   int64  // 0 if unknown
}

// invisibleChars are stripped from remote names before they become file names.
var invisibleChars = []string{
	"\u200B", // Zero-width space
	"\u200C", // Zero-width non-joiner
	"\u200D", // Zero-width joiner
	"\uFEFF", // Zero-width no-break space (BOM)
	"\u00AD", // Soft hyphen
	"\u2060", // Word joiner
}

// LocalName makes a remote display name safe to use as a single local file
// name. Path separators and characters Windows rejects become '_'. A name
// that ends up empty or is only dots falls back to fileID.
func LocalName(name, fileID string) string {
	for _, c := range invisibleChars {
		name = strings.ReplaceAll(name, c, "")
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if strings.Trim(name, ".") == "" {
		return fileID
	}
	return name
}

// PlanDownloads assigns each download a destination in dir from its
// sanitized name, then makes the destinations unique. It returns the number
// of files whose name collided.
func PlanDownloads(dir string, files []Download) ([]Download, int) {
	for i := range files {
		files[i].Dest = filepath.Join(dir, LocalName(files[i].Name, files[i].FileID))
	}
	return ResolveCollisions(files)
}

// ResolveCollisions ensures every Dest is unique. Files sharing a Dest each
// get their FileID inserted before the extension:
//
//	output.zip -> output_ABC123.zip, output_DEF456.zip
//
// Two queued tasks writing the same path would corrupt each other's resume
// offset. Returns the slice (modified in place) and the number of files
// involved in collisions.
func ResolveCollisions(files []Download) ([]Download, int) {
	if len(files) == 0 {
		return files, 0
	}

	byDest := make(map[string][]int)
	for i, f := range files {
		byDest[f.Dest] = append(byDest[f.Dest], i)
	}

	collisions := 0
	for dest, indices := range byDest {
		if len(indices) <= 1 {
			continue
		}
		collisions += len(indices)
		ext := filepath.Ext(dest)
		base := dest[:len(dest)-len(ext)]
		for _, idx := range indices {
			files[idx].Dest = fmt.Sprintf("%s_%s%s", base, files[idx].FileID, ext)
		}
	}
	return files, collisions
}
