package filesystem

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
	"github.com/vfskit/sandboxfs/sbfs/storage/localfs"
)

// newTestFS builds a filesystem over a throwaway host directory.
func newTestFS(t *testing.T, opts ...FSOption) *FileSystem {
	t.Helper()
	provider, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	return New("test", provider, opts...)
}

// mustWriteFile creates (or overwrites) a file under dir with the given
// content and returns its entry.
func mustWriteFile(t *testing.T, dir *DirectoryEntry, name, content string) *FileEntry {
	t.Helper()
	ctx := context.Background()

	f, err := dir.GetFile(ctx, name, Flags{Create: true})
	require.NoError(t, err)

	w, err := f.CreateWriter(ctx)
	require.NoError(t, err)
	_, err = w.Write(ctx, []byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))
	return f
}

// readFileContent reads the current bytes of a file entry.
func readFileContent(t *testing.T, f *FileEntry) string {
	t.Helper()
	ctx := context.Background()

	r, err := f.fs.provider.OpenRead(ctx, f.fullPath)
	require.NoError(t, err)
	defer r.Close()

	content, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(content)
}

func TestRootEntry(t *testing.T) {
	fs := newTestFS(t)
	root := fs.Root()

	assert.True(t, root.IsDirectory())
	assert.False(t, root.IsFile())
	assert.Equal(t, "/", root.FullPath())
	assert.Equal(t, "", root.Name())
	assert.Same(t, fs, root.Filesystem())

	parent, err := root.Parent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/", parent.FullPath(), "the root is its own parent")
}

func TestResolve(t *testing.T) {
	fs := newTestFS(t)
	ctx := context.Background()

	docs, err := fs.Root().GetDirectory(ctx, "docs", Flags{Create: true})
	require.NoError(t, err)
	mustWriteFile(t, docs, "a.txt", "hello")

	t.Run("resolves the root", func(t *testing.T) {
		entry, err := fs.Resolve(ctx, "/")
		require.NoError(t, err)
		assert.True(t, entry.IsDirectory())
		assert.Equal(t, "/", entry.FullPath())
	})

	t.Run("resolves files and directories", func(t *testing.T) {
		entry, err := fs.Resolve(ctx, "/docs/a.txt")
		require.NoError(t, err)
		assert.True(t, entry.IsFile())
		assert.Equal(t, "a.txt", entry.Name())

		entry, err = fs.Resolve(ctx, "/docs")
		require.NoError(t, err)
		assert.True(t, entry.IsDirectory())
	})

	t.Run("repeated resolution returns the cached handle", func(t *testing.T) {
		first, err := fs.Resolve(ctx, "/docs/a.txt")
		require.NoError(t, err)
		second, err := fs.Resolve(ctx, "/docs/a.txt")
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("missing paths fail with not found", func(t *testing.T) {
		_, err := fs.Resolve(ctx, "/docs/missing.txt")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestUsageTracksWrites(t *testing.T) {
	fs := newTestFS(t, WithQuota(1024))
	ctx := context.Background()

	mustWriteFile(t, fs.Root(), "data.bin", "0123456789")

	usage, err := fs.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), usage)
}

func TestMemoryAccountant(t *testing.T) {
	ma := NewMemoryAccountant()
	ctx := context.Background()
	id := uuid.New()
	ma.SetQuota(id, 100)

	require.NoError(t, ma.Adjust(ctx, id, 80))

	err := ma.Adjust(ctx, id, 30)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)

	usage, err := ma.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(80), usage, "a rejected adjustment must not change usage")

	require.NoError(t, ma.Adjust(ctx, id, -200))
	usage, err = ma.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage, "usage clamps at zero")

	// Zero quota means unlimited.
	other := uuid.New()
	require.NoError(t, ma.Adjust(ctx, other, 1<<40))
}

func TestFSOptions(t *testing.T) {
	fs := newTestFS(t,
		WithKind(Persistent),
		WithQuota(2048),
		WithBatchSize(7),
	)

	assert.Equal(t, Persistent, fs.Kind())
	assert.Equal(t, int64(2048), fs.Quota())
	assert.Equal(t, 7, fs.batchSize)
	assert.Equal(t, "test", fs.Name())
	assert.NotEqual(t, uuid.Nil, fs.ID())
}
