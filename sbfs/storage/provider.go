package storage

import (
	"context"
	"io"
	"time"
)

// EntryInfo describes a single node of a sandbox as reported by a backend.
// FullPath is sandbox-absolute and slash-separated; it never leaks host paths.
type EntryInfo struct {
	Name     string
	FullPath string
	IsDir    bool
	Size     int64
	ModTime  time.Time
}

// Staged is a handle to an uncommitted write target. Bytes written to a
// Staged handle are invisible to readers until the handle is committed via
// Provider.Commit; Discard drops them without touching the target.
type Staged interface {
	io.WriterAt
	Truncate(size int64) error
	Size() (int64, error)
	Discard() error
}

// Provider is the backend contract the sandbox API binds to. Implementations
// adapt an existing storage medium (a host directory subtree); they do not
// implement a filesystem of their own.
//
// All paths are sandbox-absolute. Providers translate backend failures into
// the common sentinel errors so the API layer never sees host error types.
type Provider interface {
	// Stat describes the entry at fullPath.
	Stat(ctx context.Context, fullPath string) (EntryInfo, error)

	// List returns the immediate children of the directory at fullPath.
	List(ctx context.Context, fullPath string) ([]EntryInfo, error)

	// Mkdir creates a single directory. The parent must already exist.
	Mkdir(ctx context.Context, fullPath string) error

	// CreateFile creates an empty file. With exclusive set, an existing
	// entry at fullPath is an error.
	CreateFile(ctx context.Context, fullPath string, exclusive bool) error

	// Remove deletes a file or an empty directory.
	Remove(ctx context.Context, fullPath string) error

	// Rename moves an entry within the sandbox.
	Rename(ctx context.Context, oldPath, newPath string) error

	// OpenRead opens the file at fullPath for reading.
	OpenRead(ctx context.Context, fullPath string) (io.ReadSeekCloser, error)

	// Stage creates an uncommitted write target. When seedPath is non-empty
	// the staged handle starts with a copy of that file's current content.
	Stage(ctx context.Context, seedPath string) (Staged, error)

	// Commit atomically publishes a staged handle at fullPath.
	Commit(ctx context.Context, staged Staged, fullPath string) error
}
