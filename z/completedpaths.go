package z

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// completedPaths is the registry of directories already known to exist on disk during a bulk extraction, shared
// between the foreground entry-copy loop and the background directory-creation worker.
//
// Grounded on original_source/src/read/tokio.rs's CompletedPaths: a plain set behind a reader/writer lock, read
// far more often (one lookup per entry, to compute which ancestors still need creating) than written (once per
// newly discovered directory).
type completedPaths struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func newCompletedPaths(root string) *completedPaths {
	return &completedPaths{seen: map[string]struct{}{root: {}}}
}

// newContainingDirsNeeded returns the ancestor directories of path, nearest-first, that are not yet known to
// exist, without taking the write lock.
func (c *completedPaths) newContainingDirsNeeded(path string) []string {
	dir := filepath.Dir(path)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var needed []string
	for {
		if _, ok := c.seen[dir]; ok {
			break
		}
		needed = append(needed, dir)

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return needed
}

// writeDirs idempotently creates every directory in dirs (each created with its parents) and records them as
// seen. dirs may be given in any order; each is created independently via MkdirAll.
func (c *completedPaths) writeDirs(dirs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, dir := range dirs {
		if _, ok := c.seen[dir]; ok {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		c.seen[dir] = struct{}{}
	}

	return nil
}

// markSeen records dir (and only dir, no ancestors) as already existing, used after a successful MkdirAll
// performed outside the normal channel-batched path (e.g. the self-heal retry in extractOne).
func (c *completedPaths) markSeen(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[dir] = struct{}{}
}

// sanitizeEntryPath validates that name, once joined under root, does not escape root via ".." segments or an
// absolute path, returning the joined path. This is the "Invalid file path" rejection from the extraction
// invariants.
func sanitizeEntryPath(root, name string) (string, error) {
	root = filepath.Clean(root)
	if name == "" {
		return "", InvalidArchive("empty file name")
	}

	clean := filepath.Clean(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", InvalidArchive("Invalid file path")
	}

	full := filepath.Join(root, clean)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", InvalidArchive("Invalid file path")
	}

	return full, nil
}
