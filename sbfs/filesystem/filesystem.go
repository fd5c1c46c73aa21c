package filesystem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	internal "github.com/vfskit/sandboxfs/sbfs"
	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
	"github.com/vfskit/sandboxfs/sbfs/index"
	"github.com/vfskit/sandboxfs/sbfs/storage"
	"github.com/vfskit/sandboxfs/sbfs/traverse"
)

// Kind distinguishes the two sandbox lifetimes an application can request.
type Kind string

const (
	// Temporary filesystems may be reclaimed by the host; they carry a
	// default quota.
	Temporary Kind = "temporary"
	// Persistent filesystems survive until explicitly removed.
	Persistent Kind = "persistent"
)

// QuotaAccountant tracks bytes used per filesystem and enforces quotas.
// The registry implements this over its database; MemoryAccountant is the
// in-process default.
type QuotaAccountant interface {
	// Adjust applies a usage delta. A positive delta past the quota fails
	// with ErrQuotaExceeded; negative deltas always succeed.
	Adjust(ctx context.Context, id uuid.UUID, delta int64) error
	// Usage returns the bytes currently accounted.
	Usage(ctx context.Context, id uuid.UUID) (int64, error)
}

// FileSystem is a named, quota-bounded sandbox tree. Entries are resolved
// through a patricia path index, so repeated resolution of the same fullPath
// returns the cached handle in O(k).
type FileSystem struct {
	id        uuid.UUID
	name      string
	kind      Kind
	quota     int64
	provider  storage.Provider
	pathIndex *index.PathIndex
	accounts  QuotaAccountant
	traverser *traverse.Traverser
	batchSize int
	logger    *slog.Logger
}

// FSOption allows for customization of a FileSystem
type FSOption func(*FileSystem)

// WithKind sets the sandbox lifetime kind.
func WithKind(kind Kind) FSOption {
	return func(fs *FileSystem) { fs.kind = kind }
}

// WithID pins the filesystem's identity, normally the registry record ID.
func WithID(id uuid.UUID) FSOption {
	return func(fs *FileSystem) { fs.id = id }
}

// WithQuota sets the byte quota. Zero means unlimited.
func WithQuota(quota int64) FSOption {
	return func(fs *FileSystem) { fs.quota = quota }
}

// WithAccountant wires an external quota accountant (e.g. the registry).
func WithAccountant(accounts QuotaAccountant) FSOption {
	return func(fs *FileSystem) { fs.accounts = accounts }
}

// WithBatchSize sets the default DirectoryReader batch size.
func WithBatchSize(n int) FSOption {
	return func(fs *FileSystem) {
		if n > 0 {
			fs.batchSize = n
		}
	}
}

// WithWorkers caps the concurrency of recursive operations.
func WithWorkers(n int) FSOption {
	return func(fs *FileSystem) {
		fs.traverser = traverse.New(fs.provider, traverse.WithWorkers(n))
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) FSOption {
	return func(fs *FileSystem) { fs.logger = logger }
}

// New creates a FileSystem over the given backend provider.
func New(name string, provider storage.Provider, opts ...FSOption) *FileSystem {
	fs := &FileSystem{
		id:        uuid.New(),
		name:      name,
		kind:      Temporary,
		provider:  provider,
		pathIndex: index.NewPathIndex(),
		traverser: traverse.New(provider),
		batchSize: internal.DefaultReaderBatchSize,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(fs)
	}

	if fs.accounts == nil {
		ma := NewMemoryAccountant()
		ma.SetQuota(fs.id, fs.quota)
		fs.accounts = ma
	}

	return fs
}

// Name returns the filesystem's name.
func (fs *FileSystem) Name() string { return fs.name }

// ID returns the filesystem's identity.
func (fs *FileSystem) ID() uuid.UUID { return fs.id }

// Kind returns the sandbox lifetime kind.
func (fs *FileSystem) Kind() Kind { return fs.kind }

// Quota returns the byte quota; zero means unlimited.
func (fs *FileSystem) Quota() int64 { return fs.quota }

// Usage returns the bytes currently accounted against the quota.
func (fs *FileSystem) Usage(ctx context.Context) (int64, error) {
	return fs.accounts.Usage(ctx, fs.id)
}

// Root returns the root directory entry. Its fullPath is "/" and its name is
// empty; its parent is itself.
func (fs *FileSystem) Root() *DirectoryEntry {
	return &DirectoryEntry{entryCore{fs: fs, fullPath: "/", name: "", isDir: true}}
}

// Resolve returns the entry at a sandbox-absolute path, consulting the path
// index before the backend.
func (fs *FileSystem) Resolve(ctx context.Context, fullPath string) (Entry, error) {
	cleaned := common.NormalizeFullPath(fullPath)
	if cleaned == "/" {
		return fs.Root(), nil
	}

	if cached, ok := fs.pathIndex.Lookup(cleaned); ok {
		if entry, ok := cached.(Entry); ok {
			return entry, nil
		}
	}

	info, err := fs.provider.Stat(ctx, cleaned)
	if err != nil {
		return nil, err
	}
	return fs.wrapInfo(info), nil
}

// wrapInfo builds the typed entry handle for a backend listing and caches it.
func (fs *FileSystem) wrapInfo(info storage.EntryInfo) Entry {
	core := entryCore{
		fs:       fs,
		fullPath: common.NormalizeFullPath(info.FullPath),
		name:     info.Name,
		isDir:    info.IsDir,
	}

	var entry Entry
	if info.IsDir {
		entry = &DirectoryEntry{core}
	} else {
		entry = &FileEntry{core}
	}

	if err := fs.pathIndex.Insert(core.fullPath, entry); err != nil {
		fs.logger.Error("failed to index entry", "path", core.fullPath, "error", err)
	}
	return entry
}

// MemoryAccountant is the in-process QuotaAccountant used when a FileSystem
// is constructed without a registry.
type MemoryAccountant struct {
	mu     sync.Mutex
	usage  map[uuid.UUID]int64
	quotas map[uuid.UUID]int64
}

// NewMemoryAccountant creates an empty in-process accountant.
func NewMemoryAccountant() *MemoryAccountant {
	return &MemoryAccountant{
		usage:  make(map[uuid.UUID]int64),
		quotas: make(map[uuid.UUID]int64),
	}
}

// SetQuota records the byte quota for a filesystem. Zero means unlimited.
func (ma *MemoryAccountant) SetQuota(id uuid.UUID, quota int64) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.quotas[id] = quota
}

// Adjust applies a usage delta, enforcing the quota on growth.
func (ma *MemoryAccountant) Adjust(ctx context.Context, id uuid.UUID, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	next := ma.usage[id] + delta
	if next < 0 {
		next = 0
	}
	quota := ma.quotas[id]
	if delta > 0 && quota > 0 && next > quota {
		return fmt.Errorf("usage %d + %d exceeds quota %d: %w", ma.usage[id], delta, quota, common.ErrQuotaExceeded)
	}

	ma.usage[id] = next
	return nil
}

// Usage returns the bytes currently accounted for a filesystem.
func (ma *MemoryAccountant) Usage(ctx context.Context, id uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.usage[id], nil
}
