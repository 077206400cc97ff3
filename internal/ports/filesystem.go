package ports

import (
	"os"
	"path/filepath"
	"strings"
)

// FileSystem provides the tree operations used to populate install prefixes.
type FileSystem interface {
	Exists(path string) bool
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
	// CopyTree copies the contents of src into dst, preserving file modes and
	// symbolic links. dst is created if missing; existing files are replaced.
	CopyTree(src, dst string) error
	// IsEmptyDir reports whether path is a directory without entries.
	IsEmptyDir(path string) (bool, error)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
