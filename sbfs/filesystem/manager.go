package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/ZanzyTHEbar/assert-lib"
	"github.com/rs/zerolog"

	internal "github.com/vfskit/sandboxfs/sbfs"
	"github.com/vfskit/sandboxfs/sbfs/config"
	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
	"github.com/vfskit/sandboxfs/sbfs/registry"
	"github.com/vfskit/sandboxfs/sbfs/storage/localfs"
)

// fsNamePattern keeps filesystem names usable as URL hosts and directory
// names alike.
var fsNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Manager is the top-level entry point of the library. It provisions
// sandboxes on request, keeps the open handles, and resolves sandbox URLs
// back to entries.
type Manager struct {
	cfg           *config.Config
	registry      *registry.Registry
	AssertHandler *assert.AssertHandler
	logger        zerolog.Logger

	mu   sync.Mutex
	open map[string]*FileSystem
}

// NewManager creates a manager over the given registry. A nil cfg falls back
// to the loaded application config.
func NewManager(cfg *config.Config, reg *registry.Registry) *Manager {
	if cfg == nil {
		cfg = &config.AppConfig
	}
	return &Manager{
		cfg:           cfg,
		registry:      reg,
		AssertHandler: assert.NewAssertHandler(),
		logger:        internal.GetLogger(),
		open:          make(map[string]*FileSystem),
	}
}

// RequestFileSystem returns the sandbox filesystem registered under name,
// provisioning and registering it on first request. A quota of zero picks
// the configured default for the kind. Requesting an existing filesystem
// with a different kind fails with ErrInvalidModification.
func (m *Manager) RequestFileSystem(ctx context.Context, kind Kind, name string, quota int64) (*FileSystem, error) {
	if kind != Temporary && kind != Persistent {
		return nil, fmt.Errorf("unknown filesystem kind %q: %w", kind, common.ErrSyntax)
	}
	if !fsNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid filesystem name %q: %w", name, common.ErrSyntax)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if fs, ok := m.open[name]; ok {
		if fs.kind != kind {
			return nil, fmt.Errorf("filesystem %s is %s, not %s: %w", name, fs.kind, kind, common.ErrInvalidModification)
		}
		return fs, nil
	}

	rec, err := m.registry.GetByName(ctx, name)
	switch {
	case errors.Is(err, common.ErrNotFound):
		if quota == 0 {
			quota = m.defaultQuota(kind)
		}
		rootPath := filepath.Join(m.cfg.Sandbox.BaseDir, string(kind), name)
		rec, err = m.registry.Register(ctx, name, string(kind), rootPath, quota)
		if err != nil {
			return nil, err
		}
		m.logger.Info().
			Str("name", name).
			Str("kind", string(kind)).
			Int64("quota", quota).
			Msg("provisioned new sandbox filesystem")
	case err != nil:
		return nil, err
	case rec.Kind != string(kind):
		return nil, fmt.Errorf("filesystem %s is %s, not %s: %w", name, rec.Kind, kind, common.ErrInvalidModification)
	}

	fs, err := m.openFromRecord(rec)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// ResolveURL parses a sandbox URL and returns the entry it addresses. The
// filesystem must already be registered; resolution never provisions.
func (m *Manager) ResolveURL(ctx context.Context, raw string) (Entry, error) {
	name, fullPath, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	fs, ok := m.open[name]
	if !ok {
		rec, err := m.registry.GetByName(ctx, name)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		fs, err = m.openFromRecord(rec)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.mu.Unlock()

	return fs.Resolve(ctx, fullPath)
}

// RemoveFileSystem tears a registered sandbox down: its backing directory,
// its registry record, and any open handle.
func (m *Manager) RemoveFileSystem(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.registry.GetByName(ctx, name)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(rec.RootPath); err != nil {
		return fmt.Errorf("failed to remove sandbox directory %s: %w", rec.RootPath, err)
	}
	if err := m.registry.Unregister(ctx, rec.ID); err != nil {
		return err
	}

	delete(m.open, name)
	m.logger.Info().Str("name", name).Msg("removed sandbox filesystem")
	return nil
}

// openFromRecord binds a registry record to a local provider and caches the
// resulting filesystem handle. Callers must hold m.mu.
func (m *Manager) openFromRecord(rec *registry.Record) (*FileSystem, error) {
	provider, err := localfs.New(rec.RootPath)
	if err != nil {
		return nil, err
	}

	fs := New(rec.Name, provider,
		WithID(rec.ID),
		WithKind(Kind(rec.Kind)),
		WithQuota(rec.Quota),
		WithAccountant(m.registry),
		WithBatchSize(m.cfg.Sandbox.ReaderBatchSize),
		WithWorkers(m.cfg.Sandbox.WorkerCount),
	)
	m.open[rec.Name] = fs
	return fs, nil
}

func (m *Manager) defaultQuota(kind Kind) int64 {
	if kind == Persistent {
		return m.cfg.Sandbox.PersistentQuota
	}
	return m.cfg.Sandbox.TemporaryQuota
}
