package mocks

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/felixgeelhaar/cellar/internal/ports"
)

// FileSystem is a thread-safe in-memory test double for ports.FileSystem.
// Paths are slash-separated and compared after path.Clean.
type FileSystem struct {
	mu       sync.RWMutex
	files    map[string][]byte
	symlinks map[string]string
	dirs     map[string]bool
	failures map[string]error
}

// NewFileSystem creates a new FileSystem mock.
func NewFileSystem() *FileSystem {
	return &FileSystem{
		files:    make(map[string][]byte),
		symlinks: make(map[string]string),
		dirs:     make(map[string]bool),
		failures: make(map[string]error),
	}
}

// AddFile adds a file, creating its parent directories.
func (fs *FileSystem) AddFile(p, content string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = path.Clean(p)
	fs.files[p] = []byte(content)
	fs.addParents(p)
}

// AddSymlink adds a symbolic link.
func (fs *FileSystem) AddSymlink(link, target string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	link = path.Clean(link)
	fs.symlinks[link] = target
	fs.addParents(link)
}

// AddDir adds a directory and its parents.
func (fs *FileSystem) AddDir(p string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = path.Clean(p)
	fs.dirs[p] = true
	fs.addParents(p)
}

// FailOn makes the named operation ("MkdirAll", "RemoveAll", "CopyTree",
// "IsEmptyDir") return err.
func (fs *FileSystem) FailOn(op string, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failures[op] = err
}

// ReadFile returns file content.
func (fs *FileSystem) ReadFile(p string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	content, ok := fs.files[path.Clean(p)]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", p)
	}
	return content, nil
}

// Symlink returns the target of a link.
func (fs *FileSystem) Symlink(p string) (string, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	target, ok := fs.symlinks[path.Clean(p)]
	return target, ok
}

// Exists checks if a file, link, or directory exists.
func (fs *FileSystem) Exists(p string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	p = path.Clean(p)
	_, isFile := fs.files[p]
	_, isLink := fs.symlinks[p]
	return isFile || isLink || fs.dirs[p]
}

// MkdirAll creates a directory and its parents.
func (fs *FileSystem) MkdirAll(p string, _ os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.failures["MkdirAll"]; err != nil {
		return err
	}
	p = path.Clean(p)
	fs.dirs[p] = true
	fs.addParents(p)
	return nil
}

// RemoveAll removes p and everything below it.
func (fs *FileSystem) RemoveAll(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.failures["RemoveAll"]; err != nil {
		return err
	}
	p = path.Clean(p)
	for k := range fs.files {
		if within(k, p) {
			delete(fs.files, k)
		}
	}
	for k := range fs.symlinks {
		if within(k, p) {
			delete(fs.symlinks, k)
		}
	}
	for k := range fs.dirs {
		if within(k, p) {
			delete(fs.dirs, k)
		}
	}
	return nil
}

// CopyTree copies every entry below src to the same relative path below dst.
func (fs *FileSystem) CopyTree(src, dst string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.failures["CopyTree"]; err != nil {
		return err
	}
	src, dst = path.Clean(src), path.Clean(dst)
	if !fs.dirs[src] {
		return fmt.Errorf("directory not found: %s", src)
	}
	rebase := func(p string) string {
		return path.Join(dst, strings.TrimPrefix(p, src))
	}
	for p, content := range fs.files {
		if within(p, src) {
			target := rebase(p)
			fs.files[target] = append([]byte(nil), content...)
			fs.addParents(target)
		}
	}
	for p, target := range fs.symlinks {
		if within(p, src) {
			link := rebase(p)
			fs.symlinks[link] = target
			fs.addParents(link)
		}
	}
	for p := range fs.dirs {
		if within(p, src) {
			fs.dirs[rebase(p)] = true
		}
	}
	fs.dirs[dst] = true
	fs.addParents(dst)
	return nil
}

// IsEmptyDir reports whether p is a directory without entries.
func (fs *FileSystem) IsEmptyDir(p string) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.failures["IsEmptyDir"]; err != nil {
		return false, err
	}
	p = path.Clean(p)
	if !fs.dirs[p] {
		return false, fmt.Errorf("directory not found: %s", p)
	}
	for _, entries := range [][]string{keys(fs.files), keys(fs.symlinks), keys(fs.dirs)} {
		for _, k := range entries {
			if k != p && within(k, p) {
				return false, nil
			}
		}
	}
	return true, nil
}

// Paths returns every file and link path below root, sorted.
func (fs *FileSystem) Paths(root string) []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	root = path.Clean(root)
	var out []string
	for _, k := range append(keys(fs.files), keys(fs.symlinks)...) {
		if k != root && within(k, root) {
			out = append(out, strings.TrimPrefix(k, root+"/"))
		}
	}
	sort.Strings(out)
	return out
}

// Reset clears everything.
func (fs *FileSystem) Reset() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files = make(map[string][]byte)
	fs.symlinks = make(map[string]string)
	fs.dirs = make(map[string]bool)
	fs.failures = make(map[string]error)
}

func (fs *FileSystem) addParents(p string) {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		fs.dirs[dir] = true
	}
}

func within(p, root string) bool {
	return p == root || strings.HasPrefix(p, root+"/")
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Ensure FileSystem implements ports.FileSystem.
var _ ports.FileSystem = (*FileSystem)(nil)
