package filesystem

import (
	"context"
	"errors"
	"fmt"

	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
)

// DirectoryEntry is a directory in a sandbox. Child lookups accept paths
// relative to the directory or sandbox-absolute ones; ".." segments are
// honored but can never climb above the sandbox root.
type DirectoryEntry struct {
	entryCore
}

// GetFile looks up or creates the file at target, per flags.
func (d *DirectoryEntry) GetFile(ctx context.Context, target string, flags Flags) (*FileEntry, error) {
	entry, err := d.getChild(ctx, target, flags, false)
	if err != nil {
		return nil, err
	}
	return entry.(*FileEntry), nil
}

// GetDirectory looks up or creates the directory at target, per flags.
func (d *DirectoryEntry) GetDirectory(ctx context.Context, target string, flags Flags) (*DirectoryEntry, error) {
	entry, err := d.getChild(ctx, target, flags, true)
	if err != nil {
		return nil, err
	}
	return entry.(*DirectoryEntry), nil
}

func (d *DirectoryEntry) getChild(ctx context.Context, target string, flags Flags, wantDir bool) (Entry, error) {
	if target == "" {
		return nil, fmt.Errorf("target path cannot be empty: %w", common.ErrSyntax)
	}
	vu := common.NewValidationUtils()
	if err := vu.ValidatePathLength(target); err != nil {
		return nil, err
	}
	if err := vu.ValidatePathCharacters(target); err != nil {
		return nil, err
	}

	full, err := common.ResolvePath(d.fullPath, target)
	if err != nil {
		return nil, err
	}

	if full == "/" {
		// The root always exists; exclusive creation on it can never win.
		if flags.Create && flags.Exclusive {
			return nil, fmt.Errorf("root directory: %w", common.ErrPathExists)
		}
		if !wantDir {
			return nil, fmt.Errorf("root directory is not a file: %w", common.ErrTypeMismatch)
		}
		return d.fs.Root(), nil
	}

	info, err := d.fs.provider.Stat(ctx, full)
	switch {
	case err == nil:
		if flags.Create && flags.Exclusive {
			return nil, fmt.Errorf("%s: %w", full, common.ErrPathExists)
		}
		if info.IsDir != wantDir {
			return nil, fmt.Errorf("%s has a different kind: %w", full, common.ErrTypeMismatch)
		}
		return d.fs.wrapInfo(info), nil

	case errors.Is(err, common.ErrNotFound):
		if !flags.Create {
			return nil, err
		}
		if createErr := d.createChild(ctx, full, flags, wantDir); createErr != nil {
			// Lost a creation race: fall back to the existing entry unless
			// the caller demanded exclusivity.
			if errors.Is(createErr, common.ErrPathExists) && !flags.Exclusive {
				return d.getChild(ctx, target, Flags{}, wantDir)
			}
			return nil, createErr
		}
		return newEntry(d.fs, full, wantDir), nil

	default:
		return nil, err
	}
}

func (d *DirectoryEntry) createChild(ctx context.Context, full string, flags Flags, wantDir bool) error {
	if wantDir {
		return d.fs.provider.Mkdir(ctx, full)
	}
	return d.fs.provider.CreateFile(ctx, full, flags.Exclusive)
}

// Reader returns a paginated enumerator over the directory's immediate
// children.
func (d *DirectoryEntry) Reader(opts ...ReaderOption) *DirectoryReader {
	r := &DirectoryReader{
		dir:       d,
		batchSize: d.fs.batchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RemoveRecursively deletes the directory and everything beneath it. The
// root itself cannot be removed.
func (d *DirectoryEntry) RemoveRecursively(ctx context.Context) error {
	if d.isRoot() {
		return fmt.Errorf("cannot remove the root directory: %w", common.ErrNoModificationAllowed)
	}
	return d.removeSelf(ctx)
}
