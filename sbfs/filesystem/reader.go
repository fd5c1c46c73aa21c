package filesystem

import (
	"context"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/vfskit/sandboxfs/sbfs/storage"
)

// DirectoryReader is a stateful, paginated enumerator of a directory's
// immediate children. The first ReadEntries call snapshots the listing;
// successive calls hand out batches of that snapshot until it is drained,
// after which every call returns an empty slice. Entries created or removed
// after the first call do not affect an in-flight enumeration.
type DirectoryReader struct {
	dir       *DirectoryEntry
	batchSize int
	filter    *ignore.GitIgnore

	mu       sync.Mutex
	snapshot []storage.EntryInfo
	offset   int
	snapped  bool
}

// ReaderOption customizes a DirectoryReader.
type ReaderOption func(*DirectoryReader)

// WithBatch overrides the filesystem's default batch size.
func WithBatch(n int) ReaderOption {
	return func(r *DirectoryReader) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithIgnoreLines installs a gitignore-style filter; matching children are
// dropped from the snapshot.
func WithIgnoreLines(lines ...string) ReaderOption {
	return func(r *DirectoryReader) {
		r.filter = ignore.CompileIgnoreLines(lines...)
	}
}

// ReadEntries returns the next batch of children. Exhaustion is signalled by
// an empty slice, never by an error.
func (r *DirectoryReader) ReadEntries(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.snapped {
		listing, err := r.dir.fs.provider.List(ctx, r.dir.fullPath)
		if err != nil {
			return nil, err
		}
		if r.filter != nil {
			kept := listing[:0]
			for _, info := range listing {
				if r.filter.MatchesPath(strings.TrimPrefix(info.FullPath, "/")) {
					continue
				}
				kept = append(kept, info)
			}
			listing = kept
		}
		r.snapshot = listing
		r.snapped = true
	}

	if r.offset >= len(r.snapshot) {
		return []Entry{}, nil
	}

	end := r.offset + r.batchSize
	if end > len(r.snapshot) {
		end = len(r.snapshot)
	}
	batch := r.snapshot[r.offset:end]
	r.offset = end

	entries := make([]Entry, 0, len(batch))
	for _, info := range batch {
		entries = append(entries, r.dir.fs.wrapInfo(info))
	}
	return entries, nil
}
