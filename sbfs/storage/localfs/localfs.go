package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
	"github.com/vfskit/sandboxfs/sbfs/storage"
)

// stagingDirName is reserved at the sandbox root for uncommitted writes and
// is never visible through the API.
const stagingDirName = ".staging"

// Provider adapts a host OS directory subtree as a sandbox backend. All
// sandbox paths are resolved lexically beneath the root; nothing above it is
// reachable.
type Provider struct {
	root    string
	staging string
}

var _ storage.Provider = (*Provider)(nil)

// New creates a provider rooted at the given host directory, creating the
// root and its staging area if missing.
func New(root string) (*Provider, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root %s: %w", root, err)
	}

	staging := filepath.Join(absRoot, stagingDirName)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox staging directory %s: %w", staging, err)
	}

	return &Provider{root: absRoot, staging: staging}, nil
}

// Root returns the host path the sandbox is rooted at.
func (p *Provider) Root() string {
	return p.root
}

// hostPath maps a sandbox-absolute path onto the host filesystem. The
// normalized path carries no ".." segments, so the join cannot climb out of
// the root; the staging area is additionally off limits.
func (p *Provider) hostPath(fullPath string) (string, error) {
	cleaned := common.NormalizeFullPath(fullPath)
	segments := common.SplitPathSegments(cleaned)
	if len(segments) > 0 && segments[0] == stagingDirName {
		return "", fmt.Errorf("path %q is reserved: %w", fullPath, common.ErrSecurity)
	}

	host := filepath.Join(p.root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
	if host != p.root && !strings.HasPrefix(host, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the sandbox root: %w", fullPath, common.ErrSecurity)
	}
	return host, nil
}

// Stat describes the entry at fullPath.
func (p *Provider) Stat(ctx context.Context, fullPath string) (storage.EntryInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.EntryInfo{}, err
	}

	host, err := p.hostPath(fullPath)
	if err != nil {
		return storage.EntryInfo{}, err
	}

	info, err := os.Lstat(host)
	if err != nil {
		return storage.EntryInfo{}, translateError(err, fullPath)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		// Symlinks could point outside the sandbox; they are not entries.
		return storage.EntryInfo{}, fmt.Errorf("symlink at %q: %w", fullPath, common.ErrSecurity)
	}

	return entryInfoFrom(fullPath, info), nil
}

// List returns the immediate children of the directory at fullPath, sorted
// by name. The staging area is filtered from root listings.
func (p *Provider) List(ctx context.Context, fullPath string) ([]storage.EntryInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host, err := p.hostPath(fullPath)
	if err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(host)
	if err != nil {
		return nil, translateError(err, fullPath)
	}

	cleaned := common.NormalizeFullPath(fullPath)
	entries := make([]storage.EntryInfo, 0, len(dirents))
	for _, de := range dirents {
		if cleaned == "/" && de.Name() == stagingDirName {
			continue
		}
		if de.Type()&os.ModeSymlink != 0 {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Raced with a concurrent removal; skip the vanished entry.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, translateError(err, path.Join(cleaned, de.Name()))
		}
		entries = append(entries, entryInfoFrom(path.Join(cleaned, de.Name()), info))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Mkdir creates a single directory. The parent must already exist.
func (p *Provider) Mkdir(ctx context.Context, fullPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	host, err := p.hostPath(fullPath)
	if err != nil {
		return err
	}

	if err := os.Mkdir(host, 0o755); err != nil {
		return translateError(err, fullPath)
	}
	slog.Debug("created sandbox directory", "path", fullPath)
	return nil
}

// CreateFile creates an empty file at fullPath.
func (p *Provider) CreateFile(ctx context.Context, fullPath string, exclusive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	host, err := p.hostPath(fullPath)
	if err != nil {
		return err
	}

	flags := os.O_CREATE | os.O_WRONLY
	if exclusive {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(host, flags, 0o644)
	if err != nil {
		return translateError(err, fullPath)
	}
	return f.Close()
}

// Remove deletes a file or an empty directory.
func (p *Provider) Remove(ctx context.Context, fullPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	host, err := p.hostPath(fullPath)
	if err != nil {
		return err
	}

	if err := os.Remove(host); err != nil {
		return translateError(err, fullPath)
	}
	slog.Debug("removed sandbox entry", "path", fullPath)
	return nil
}

// Rename moves an entry within the sandbox.
func (p *Provider) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	oldHost, err := p.hostPath(oldPath)
	if err != nil {
		return err
	}
	newHost, err := p.hostPath(newPath)
	if err != nil {
		return err
	}

	if err := os.Rename(oldHost, newHost); err != nil {
		return translateError(err, oldPath)
	}
	return nil
}

// OpenRead opens the file at fullPath for reading.
func (p *Provider) OpenRead(ctx context.Context, fullPath string) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	host, err := p.hostPath(fullPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(host)
	if err != nil {
		return nil, translateError(err, fullPath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot read directory %q as a file: %w", fullPath, common.ErrTypeMismatch)
	}

	f, err := os.Open(host)
	if err != nil {
		return nil, translateError(err, fullPath)
	}
	return f, nil
}

// Stage creates an uncommitted write target in the staging area. When
// seedPath is non-empty the staged file starts as a copy of that file.
func (p *Provider) Stage(ctx context.Context, seedPath string) (storage.Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stagedPath := filepath.Join(p.staging, uuid.NewString())
	f, err := os.OpenFile(stagedPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staged file: %w", err)
	}

	if seedPath != "" {
		src, err := p.OpenRead(ctx, seedPath)
		if err != nil {
			f.Close()
			os.Remove(stagedPath)
			return nil, err
		}
		defer src.Close()

		if _, err := io.Copy(f, src); err != nil {
			f.Close()
			os.Remove(stagedPath)
			return nil, fmt.Errorf("failed to seed staged file from %s: %w", seedPath, err)
		}
	}

	slog.Debug("staged write target", "staged", filepath.Base(stagedPath), "seed", seedPath)
	return &stagedFile{f: f, path: stagedPath}, nil
}

// Commit atomically publishes a staged handle at fullPath via rename.
func (p *Provider) Commit(ctx context.Context, staged storage.Staged, fullPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sf, ok := staged.(*stagedFile)
	if !ok {
		return fmt.Errorf("staged handle does not belong to this provider: %w", common.ErrInvalidState)
	}

	host, err := p.hostPath(fullPath)
	if err != nil {
		return err
	}

	if err := sf.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync staged file: %w", err)
	}
	if err := sf.f.Close(); err != nil {
		return fmt.Errorf("failed to close staged file: %w", err)
	}
	if err := os.Rename(sf.path, host); err != nil {
		return translateError(err, fullPath)
	}
	slog.Debug("committed staged file", "path", fullPath)
	return nil
}

// stagedFile backs storage.Staged with a host temp file.
type stagedFile struct {
	f    *os.File
	path string
}

func (s *stagedFile) WriteAt(b []byte, off int64) (int, error) {
	return s.f.WriteAt(b, off)
}

func (s *stagedFile) Truncate(size int64) error {
	return s.f.Truncate(size)
}

func (s *stagedFile) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat staged file: %w", err)
	}
	return info.Size(), nil
}

func (s *stagedFile) Discard() error {
	s.f.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to discard staged file: %w", err)
	}
	return nil
}

// entryInfoFrom builds an EntryInfo for the entry at fullPath from host
// metadata. The path is normalized so host-side spellings never leak out.
func entryInfoFrom(fullPath string, info fs.FileInfo) storage.EntryInfo {
	cleaned := common.NormalizeFullPath(fullPath)
	return storage.EntryInfo{
		Name:     path.Base(cleaned),
		FullPath: cleaned,
		IsDir:    info.IsDir(),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
}

// translateError maps host filesystem errors onto the sandbox sentinels so
// callers above the provider never branch on OS error types.
func translateError(err error, fullPath string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", fullPath, common.ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%s: %w", fullPath, common.ErrPathExists)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", fullPath, common.ErrNoModificationAllowed)
	case isNotEmpty(err):
		return fmt.Errorf("%s: %w", fullPath, common.ErrInvalidModification)
	case isWrongType(err):
		return fmt.Errorf("%s: %w", fullPath, common.ErrTypeMismatch)
	default:
		return fmt.Errorf("%s: %v: %w", fullPath, err, common.ErrNotReadable)
	}
}
