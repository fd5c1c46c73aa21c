package index

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/armon/go-radix"

	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
)

// Stats tracks performance metrics for the path index
type Stats struct {
	TotalEntries  int64
	PathLookups   int64
	PrefixLookups int64
	Insertions    int64
	Deletions     int64
	mu            sync.RWMutex
}

// PathIndex provides O(k) fullPath lookups of live entry handles using a
// compressed trie (patricia tree), where k is the length of the path being
// searched, not the number of entries resolved so far.
type PathIndex struct {
	tree  *radix.Tree  // Core patricia tree for path storage
	mu    sync.RWMutex // Read-write mutex for concurrent access
	stats *Stats       // Performance tracking
}

// NewPathIndex creates a new patricia tree-based path index
func NewPathIndex() *PathIndex {
	return &PathIndex{
		tree:  radix.New(),
		stats: &Stats{},
	}
}

// Insert adds an entry handle to the index under its fullPath.
func (idx *PathIndex) Insert(fullPath string, handle any) error {
	if handle == nil {
		return fmt.Errorf("invalid input: handle cannot be nil")
	}

	key := common.NormalizeFullPath(fullPath)

	idx.mu.Lock()
	_, updated := idx.tree.Insert(key, handle)
	idx.mu.Unlock()

	idx.stats.mu.Lock()
	if !updated {
		idx.stats.TotalEntries++
	}
	idx.stats.Insertions++
	idx.stats.mu.Unlock()

	slog.Debug("path index insertion completed",
		"path", key,
		"was_update", updated)

	return nil
}

// Lookup finds a cached entry handle by its exact fullPath.
func (idx *PathIndex) Lookup(fullPath string) (any, bool) {
	key := common.NormalizeFullPath(fullPath)

	idx.mu.RLock()
	value, found := idx.tree.Get(key)
	idx.mu.RUnlock()

	idx.stats.mu.Lock()
	idx.stats.PathLookups++
	idx.stats.mu.Unlock()

	return value, found
}

// Remove deletes a single fullPath from the index.
func (idx *PathIndex) Remove(fullPath string) bool {
	key := common.NormalizeFullPath(fullPath)

	idx.mu.Lock()
	_, deleted := idx.tree.Delete(key)
	idx.mu.Unlock()

	idx.stats.mu.Lock()
	if deleted {
		idx.stats.TotalEntries--
	}
	idx.stats.Deletions++
	idx.stats.mu.Unlock()

	slog.Debug("path index removal completed",
		"path", key,
		"was_deleted", deleted)

	return deleted
}

// RemovePrefix invalidates an entire subtree: the path itself plus every
// descendant. Used when a directory is moved or removed recursively.
func (idx *PathIndex) RemovePrefix(fullPath string) int {
	key := common.NormalizeFullPath(fullPath)

	idx.mu.Lock()
	var doomed []string
	idx.tree.WalkPrefix(key, func(k string, _ any) bool {
		if k == key || strings.HasPrefix(k, key+"/") || key == "/" {
			doomed = append(doomed, k)
		}
		return false // Continue walking
	})
	for _, k := range doomed {
		idx.tree.Delete(k)
	}
	idx.mu.Unlock()

	idx.stats.mu.Lock()
	idx.stats.TotalEntries -= int64(len(doomed))
	idx.stats.Deletions += int64(len(doomed))
	idx.stats.mu.Unlock()

	slog.Debug("path index prefix invalidation completed",
		"prefix", key,
		"removed", len(doomed))

	return len(doomed)
}

// Size returns the total number of entries in the index.
func (idx *PathIndex) Size() int64 {
	idx.stats.mu.RLock()
	defer idx.stats.mu.RUnlock()
	return idx.stats.TotalEntries
}

// GetStats returns a copy of the current index statistics.
func (idx *PathIndex) GetStats() Stats {
	idx.stats.mu.RLock()
	defer idx.stats.mu.RUnlock()

	return Stats{
		TotalEntries:  idx.stats.TotalEntries,
		PathLookups:   idx.stats.PathLookups,
		PrefixLookups: idx.stats.PrefixLookups,
		Insertions:    idx.stats.Insertions,
		Deletions:     idx.stats.Deletions,
	}
}

// Clear removes all entries from the index.
func (idx *PathIndex) Clear() {
	idx.mu.Lock()
	idx.tree = radix.New()
	idx.mu.Unlock()

	idx.stats.mu.Lock()
	idx.stats.TotalEntries = 0
	idx.stats.mu.Unlock()
}
