package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
)

// Entry is the common contract of files and directories in a sandbox.
type Entry interface {
	// IsFile reports whether the entry is a file.
	IsFile() bool
	// IsDirectory reports whether the entry is a directory.
	IsDirectory() bool
	// Name is the entry's final path segment. The root's name is empty.
	Name() string
	// FullPath is the sandbox-absolute, cleaned path of the entry.
	FullPath() string
	// Filesystem returns the owning FileSystem.
	Filesystem() *FileSystem
	// ToURL renders the entry as a sandbox URL.
	ToURL() string

	// Metadata reads the entry's current modification time and size.
	Metadata(ctx context.Context) (Metadata, error)
	// Parent returns the containing directory; the root's parent is itself.
	Parent(ctx context.Context) (*DirectoryEntry, error)
	// MoveTo moves the entry under parent with newName (empty keeps the
	// current name). Cross-filesystem moves degrade to copy plus remove.
	MoveTo(ctx context.Context, parent *DirectoryEntry, newName string) (Entry, error)
	// CopyTo copies the entry under parent with newName.
	CopyTo(ctx context.Context, parent *DirectoryEntry, newName string) (Entry, error)
	// Remove deletes the entry. Directories must be empty.
	Remove(ctx context.Context) error
}

// entryCore carries the state and behavior shared by file and directory
// entries. A handle stays valid only as long as the underlying entry does;
// operations on a stale handle surface ErrNotFound from the backend.
type entryCore struct {
	fs       *FileSystem
	fullPath string
	name     string
	isDir    bool
}

func (e *entryCore) IsFile() bool            { return !e.isDir }
func (e *entryCore) IsDirectory() bool       { return e.isDir }
func (e *entryCore) Name() string            { return e.name }
func (e *entryCore) FullPath() string        { return e.fullPath }
func (e *entryCore) Filesystem() *FileSystem { return e.fs }
func (e *entryCore) ToURL() string           { return e.fs.URL(e.fullPath) }

func (e *entryCore) isRoot() bool { return e.fullPath == "/" }

// Metadata reads the entry's current modification time and size.
func (e *entryCore) Metadata(ctx context.Context) (Metadata, error) {
	info, err := e.fs.provider.Stat(ctx, e.fullPath)
	if err != nil {
		return Metadata{}, err
	}
	return metadataFrom(info), nil
}

// Parent returns the containing directory; the root's parent is itself.
func (e *entryCore) Parent(ctx context.Context) (*DirectoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.isRoot() {
		return e.fs.Root(), nil
	}

	parentPath := common.ParentPath(e.fullPath)
	if parentPath == "/" {
		return e.fs.Root(), nil
	}
	return &DirectoryEntry{entryCore{
		fs:       e.fs,
		fullPath: parentPath,
		name:     common.BaseName(parentPath),
		isDir:    true,
	}}, nil
}

// Remove deletes the entry. Directories must be empty; the root cannot be
// removed at all.
func (e *entryCore) Remove(ctx context.Context) error {
	if e.isRoot() {
		return fmt.Errorf("cannot remove the root directory: %w", common.ErrNoModificationAllowed)
	}

	var size int64
	if !e.isDir {
		info, err := e.fs.provider.Stat(ctx, e.fullPath)
		if err != nil {
			return err
		}
		size = info.Size
	}

	if err := e.fs.provider.Remove(ctx, e.fullPath); err != nil {
		return err
	}
	e.fs.pathIndex.Remove(e.fullPath)

	if size > 0 {
		if err := e.fs.accounts.Adjust(ctx, e.fs.id, -size); err != nil {
			slog.Warn("failed to release quota after removal", "path", e.fullPath, "error", err)
		}
	}
	return nil
}

// MoveTo moves the entry under parent with newName.
func (e *entryCore) MoveTo(ctx context.Context, parent *DirectoryEntry, newName string) (Entry, error) {
	dstFS, dstPath, err := e.destination(parent, newName)
	if err != nil {
		return nil, err
	}
	if e.isRoot() {
		return nil, fmt.Errorf("cannot move the root directory: %w", common.ErrNoModificationAllowed)
	}

	if dstFS != e.fs {
		// Cross-filesystem move degrades to copy plus remove.
		moved, err := e.copyInto(ctx, dstFS, dstPath)
		if err != nil {
			return nil, err
		}
		if err := e.removeSelf(ctx); err != nil {
			return nil, fmt.Errorf("failed to remove source after cross-filesystem move: %w", err)
		}
		return moved, nil
	}

	if dstPath == e.fullPath {
		return nil, fmt.Errorf("cannot move %s onto itself: %w", e.fullPath, common.ErrInvalidModification)
	}
	if e.isDir && common.IsAncestor(e.fullPath, dstPath) {
		return nil, fmt.Errorf("cannot move %s into its own subtree: %w", e.fullPath, common.ErrInvalidModification)
	}

	replaced, err := e.prepareDestination(ctx, dstFS, dstPath)
	if err != nil {
		return nil, err
	}

	if err := e.fs.provider.Rename(ctx, e.fullPath, dstPath); err != nil {
		return nil, err
	}

	e.fs.pathIndex.RemovePrefix(e.fullPath)
	e.fs.pathIndex.Remove(dstPath)

	if replaced > 0 {
		if err := e.fs.accounts.Adjust(ctx, e.fs.id, -replaced); err != nil {
			slog.Warn("failed to release quota for replaced file", "path", dstPath, "error", err)
		}
	}

	return newEntry(dstFS, dstPath, e.isDir), nil
}

// CopyTo copies the entry under parent with newName.
func (e *entryCore) CopyTo(ctx context.Context, parent *DirectoryEntry, newName string) (Entry, error) {
	dstFS, dstPath, err := e.destination(parent, newName)
	if err != nil {
		return nil, err
	}

	if dstFS == e.fs {
		if dstPath == e.fullPath {
			return nil, fmt.Errorf("cannot copy %s onto itself: %w", e.fullPath, common.ErrInvalidModification)
		}
		if e.isDir && common.IsAncestor(e.fullPath, dstPath) {
			return nil, fmt.Errorf("cannot copy %s into its own subtree: %w", e.fullPath, common.ErrInvalidModification)
		}
	}

	return e.copyInto(ctx, dstFS, dstPath)
}

// destination validates the target parent and name, returning the owning
// filesystem and the resolved destination fullPath.
func (e *entryCore) destination(parent *DirectoryEntry, newName string) (*FileSystem, string, error) {
	if parent == nil {
		return nil, "", fmt.Errorf("destination parent is required: %w", common.ErrSyntax)
	}

	name := newName
	if name == "" {
		name = e.name
	}
	vu := common.NewValidationUtils()
	if err := vu.ValidateEntryName(name); err != nil {
		return nil, "", err
	}

	dstPath, err := common.ResolvePath(parent.FullPath(), name)
	if err != nil {
		return nil, "", err
	}
	return parent.fs, dstPath, nil
}

// prepareDestination enforces the overwrite rules shared by move and copy:
// an existing entry of the other kind fails, a non-empty directory is never
// replaced, an empty directory is removed to make way, and a replaced file's
// size is returned so accounting can be released.
func (e *entryCore) prepareDestination(ctx context.Context, dstFS *FileSystem, dstPath string) (int64, error) {
	info, err := dstFS.provider.Stat(ctx, dstPath)
	if errors.Is(err, common.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if info.IsDir != e.isDir {
		return 0, fmt.Errorf("destination %s has a different kind: %w", dstPath, common.ErrTypeMismatch)
	}

	if info.IsDir {
		children, err := dstFS.provider.List(ctx, dstPath)
		if err != nil {
			return 0, err
		}
		if len(children) > 0 {
			return 0, fmt.Errorf("destination directory %s is not empty: %w", dstPath, common.ErrInvalidModification)
		}
		if err := dstFS.provider.Remove(ctx, dstPath); err != nil {
			return 0, err
		}
		dstFS.pathIndex.Remove(dstPath)
		return 0, nil
	}

	return info.Size, nil
}

// copyInto performs the actual copy of this entry to dstPath on dstFS and
// settles destination quota accounting.
func (e *entryCore) copyInto(ctx context.Context, dstFS *FileSystem, dstPath string) (Entry, error) {
	replaced, err := e.prepareDestination(ctx, dstFS, dstPath)
	if err != nil {
		return nil, err
	}

	var copied int64
	if e.isDir {
		if dstFS == e.fs {
			stats, err := e.fs.traverser.CopyTree(ctx, e.fullPath, dstPath)
			if err != nil {
				return nil, err
			}
			copied = stats.BytesProcessed
		} else {
			copied, err = crossCopyTree(ctx, e.fs, e.fullPath, dstFS, dstPath)
			if err != nil {
				return nil, err
			}
		}
	} else {
		copied, err = crossCopyFile(ctx, e.fs, e.fullPath, dstFS, dstPath)
		if err != nil {
			return nil, err
		}
	}

	dstFS.pathIndex.Remove(dstPath)

	if delta := copied - replaced; delta != 0 {
		if err := dstFS.accounts.Adjust(ctx, dstFS.id, delta); err != nil {
			// Roll the copy back rather than leave unaccounted bytes behind.
			if e.isDir {
				if _, rmErr := dstFS.traverser.RemoveAll(ctx, dstPath); rmErr != nil {
					slog.Error("failed to roll back over-quota copy", "path", dstPath, "error", rmErr)
				}
			} else if rmErr := dstFS.provider.Remove(ctx, dstPath); rmErr != nil {
				slog.Error("failed to roll back over-quota copy", "path", dstPath, "error", rmErr)
			}
			return nil, err
		}
	}

	return newEntry(dstFS, dstPath, e.isDir), nil
}

// removeSelf deletes this entry regardless of kind, recursively for
// directories. Used by cross-filesystem moves.
func (e *entryCore) removeSelf(ctx context.Context) error {
	if !e.isDir {
		return e.Remove(ctx)
	}

	stats, err := e.fs.traverser.RemoveAll(ctx, e.fullPath)
	if err != nil {
		return err
	}
	e.fs.pathIndex.RemovePrefix(e.fullPath)
	if stats.BytesProcessed > 0 {
		if err := e.fs.accounts.Adjust(ctx, e.fs.id, -stats.BytesProcessed); err != nil {
			slog.Warn("failed to release quota after recursive removal", "path", e.fullPath, "error", err)
		}
	}
	return nil
}

// newEntry builds a typed handle for a known path and caches it.
func newEntry(fs *FileSystem, fullPath string, isDir bool) Entry {
	core := entryCore{
		fs:       fs,
		fullPath: common.NormalizeFullPath(fullPath),
		name:     common.BaseName(fullPath),
		isDir:    isDir,
	}

	var entry Entry
	if isDir {
		entry = &DirectoryEntry{core}
	} else {
		entry = &FileEntry{core}
	}
	if err := fs.pathIndex.Insert(core.fullPath, entry); err != nil {
		fs.logger.Error("failed to index entry", "path", core.fullPath, "error", err)
	}
	return entry
}

// crossCopyFile streams a single file between providers through a staged
// handle, so a failed copy never leaves a partial destination file.
func crossCopyFile(ctx context.Context, srcFS *FileSystem, src string, dstFS *FileSystem, dst string) (int64, error) {
	reader, err := srcFS.provider.OpenRead(ctx, src)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	staged, err := dstFS.provider.Stage(ctx, "")
	if err != nil {
		return 0, err
	}

	var offset int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := staged.WriteAt(buf[:n], offset); writeErr != nil {
				staged.Discard()
				return 0, fmt.Errorf("failed to copy %s to %s: %w", src, dst, writeErr)
			}
			offset += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			staged.Discard()
			return 0, fmt.Errorf("failed to copy %s to %s: %w", src, dst, readErr)
		}
	}

	if err := dstFS.provider.Commit(ctx, staged, dst); err != nil {
		staged.Discard()
		return 0, err
	}
	return offset, nil
}

// crossCopyTree replicates a subtree between two filesystems. Unlike the
// same-provider fast path this walks sequentially; cross-sandbox copies are
// rare enough not to warrant a second worker pool.
func crossCopyTree(ctx context.Context, srcFS *FileSystem, src string, dstFS *FileSystem, dst string) (int64, error) {
	if err := dstFS.provider.Mkdir(ctx, dst); err != nil {
		return 0, err
	}

	entries, err := srcFS.provider.List(ctx, src)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, entry := range entries {
		target := common.NormalizeFullPath(dst + "/" + entry.Name)
		if entry.IsDir {
			n, err := crossCopyTree(ctx, srcFS, entry.FullPath, dstFS, target)
			if err != nil {
				return total, err
			}
			total += n
			continue
		}
		n, err := crossCopyFile(ctx, srcFS, entry.FullPath, dstFS, target)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
