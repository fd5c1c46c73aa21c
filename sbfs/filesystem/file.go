package filesystem

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"time"

	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
)

// FileEntry is a file in a sandbox.
type FileEntry struct {
	entryCore
}

// CreateWriter opens a FileWriter positioned at the start of the file.
func (f *FileEntry) CreateWriter(ctx context.Context) (*FileWriter, error) {
	info, err := f.fs.provider.Stat(ctx, f.fullPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, fmt.Errorf("%s is a directory: %w", f.fullPath, common.ErrTypeMismatch)
	}

	staged, err := f.fs.provider.Stage(ctx, f.fullPath)
	if err != nil {
		return nil, err
	}

	return &FileWriter{
		entry:   f,
		staged:  staged,
		length:  info.Size,
		origLen: info.Size,
	}, nil
}

// Snapshot materializes an immutable view of the file's current state.
func (f *FileEntry) Snapshot(ctx context.Context) (*FileSnapshot, error) {
	info, err := f.fs.provider.Stat(ctx, f.fullPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, fmt.Errorf("%s is a directory: %w", f.fullPath, common.ErrTypeMismatch)
	}

	mediaType := mime.TypeByExtension(path.Ext(f.name))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	return &FileSnapshot{
		Name:             f.name,
		Type:             mediaType,
		Size:             info.Size,
		ModificationTime: info.ModTime,
		entry:            f,
	}, nil
}

// FileSnapshot captures a file's name, declared media type, size and
// modification time at the instant Snapshot was called. Open refuses to read
// a file that changed after the snapshot was taken.
type FileSnapshot struct {
	Name             string
	Type             string
	Size             int64
	ModificationTime time.Time

	entry *FileEntry
}

// Open returns a reader over the snapshotted content. If the underlying file
// was modified, truncated or replaced since the snapshot was taken, Open
// fails with ErrNotReadable.
func (s *FileSnapshot) Open(ctx context.Context) (io.ReadCloser, error) {
	info, err := s.entry.fs.provider.Stat(ctx, s.entry.fullPath)
	if err != nil {
		return nil, err
	}
	if info.Size != s.Size || !info.ModTime.Equal(s.ModificationTime) {
		return nil, fmt.Errorf("%s changed since the snapshot was taken: %w",
			s.entry.fullPath, common.ErrNotReadable)
	}
	return s.entry.fs.provider.OpenRead(ctx, s.entry.fullPath)
}
