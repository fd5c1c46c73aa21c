package filesystem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
)

func newWriter(t *testing.T, fs *FileSystem, name, content string) (*FileEntry, *FileWriter) {
	t.Helper()
	ctx := context.Background()

	var f *FileEntry
	if content != "" {
		f = mustWriteFile(t, fs.Root(), name, content)
	} else {
		var err error
		f, err = fs.Root().GetFile(ctx, name, Flags{Create: true})
		require.NoError(t, err)
	}

	w, err := f.CreateWriter(ctx)
	require.NoError(t, err)
	return f, w
}

func TestWriterWriteAndClose(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	f, w := newWriter(t, fs, "doc.txt", "")

	assert.Equal(t, Init, w.ReadyState())
	assert.Equal(t, int64(0), w.Position())
	assert.Equal(t, int64(0), w.Length())

	n, err := w.Write(ctx, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, Done, w.ReadyState())
	assert.Equal(t, int64(11), w.Position())
	assert.Equal(t, int64(11), w.Length())

	require.NoError(t, w.Close(ctx))
	assert.Equal(t, "hello world", readFileContent(t, f))
}

func TestWriterSeekAndOverwrite(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	f, w := newWriter(t, fs, "doc.txt", "hello world")

	assert.Equal(t, int64(11), w.Length(), "the writer starts over the existing content")

	require.NoError(t, w.Seek(6))
	_, err := w.Write(ctx, []byte("there"))
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	assert.Equal(t, "hello there", readFileContent(t, f))
}

func TestWriterSeekClamping(t *testing.T) {
	fs := newTestFS(t)
	_, w := newWriter(t, fs, "doc.txt", "0123456789")
	defer w.Abort(context.Background())

	require.NoError(t, w.Seek(-4))
	assert.Equal(t, int64(6), w.Position(), "negative offsets are relative to the end")

	require.NoError(t, w.Seek(-100))
	assert.Equal(t, int64(0), w.Position())

	require.NoError(t, w.Seek(100))
	assert.Equal(t, int64(10), w.Position())
}

func TestWriterTruncate(t *testing.T) {
	ctx := context.Background()

	t.Run("shrink clamps the position", func(t *testing.T) {
		fs := newTestFS(t)
		f, w := newWriter(t, fs, "doc.txt", "0123456789")

		require.NoError(t, w.Seek(8))
		require.NoError(t, w.Truncate(ctx, 4))
		assert.Equal(t, int64(4), w.Length())
		assert.Equal(t, int64(4), w.Position())

		require.NoError(t, w.Close(ctx))
		assert.Equal(t, "0123", readFileContent(t, f))
	})

	t.Run("extend zero-fills", func(t *testing.T) {
		fs := newTestFS(t)
		f, w := newWriter(t, fs, "doc.txt", "ab")

		require.NoError(t, w.Truncate(ctx, 4))
		assert.Equal(t, int64(4), w.Length())
		assert.Equal(t, int64(0), w.Position(), "extending does not move the cursor")

		require.NoError(t, w.Close(ctx))
		assert.Equal(t, "ab\x00\x00", readFileContent(t, f))
	})

	t.Run("negative length is a syntax error", func(t *testing.T) {
		fs := newTestFS(t)
		_, w := newWriter(t, fs, "doc.txt", "ab")
		defer w.Abort(ctx)

		err := w.Truncate(ctx, -1)
		assert.ErrorIs(t, err, common.ErrSyntax)
	})
}

func TestWriterAtomicCommit(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	f, w := newWriter(t, fs, "doc.txt", "original")

	_, err := w.Write(ctx, []byte("replacement"))
	require.NoError(t, err)

	// Nothing is visible until Close commits.
	assert.Equal(t, "original", readFileContent(t, f))

	require.NoError(t, w.Close(ctx))
	assert.Equal(t, "replacement", readFileContent(t, f))
}

func TestWriterAbort(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t, WithQuota(1024))
	f, w := newWriter(t, fs, "doc.txt", "original")

	_, err := w.Write(ctx, []byte("scratched rewrite that never lands"))
	require.NoError(t, err)

	require.NoError(t, w.Abort(ctx))
	assert.Equal(t, "original", readFileContent(t, f), "the target is untouched after abort")

	usage, err := fs.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len("original")), usage, "abort releases the growth reservation")

	// The writer is unusable afterwards.
	_, err = w.Write(ctx, []byte("x"))
	assert.ErrorIs(t, err, common.ErrInvalidState)
	err = w.Abort(ctx)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestWriterCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	_, w := newWriter(t, fs, "doc.txt", "")

	_, err := w.Write(ctx, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx), "closing twice is a no-op")

	_, err = w.Write(ctx, []byte("y"))
	assert.ErrorIs(t, err, common.ErrInvalidState)
	err = w.Seek(0)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestWriterQuotaEnforcement(t *testing.T) {
	ctx := context.Background()

	t.Run("write past the quota fails and leaves state unchanged", func(t *testing.T) {
		fs := newTestFS(t, WithQuota(8))
		f, w := newWriter(t, fs, "doc.txt", "")

		_, err := w.Write(ctx, []byte("0123456789"))
		assert.ErrorIs(t, err, common.ErrQuotaExceeded)
		assert.Equal(t, int64(0), w.Position())
		assert.Equal(t, int64(0), w.Length())

		// Within the quota still works.
		_, err = w.Write(ctx, []byte("01234567"))
		require.NoError(t, err)
		require.NoError(t, w.Close(ctx))
		assert.Equal(t, "01234567", readFileContent(t, f))
	})

	t.Run("overwriting existing bytes needs no new quota", func(t *testing.T) {
		fs := newTestFS(t, WithQuota(10))
		f, w := newWriter(t, fs, "doc.txt", "0123456789")

		require.NoError(t, w.Seek(0))
		_, err := w.Write(ctx, []byte("abcdefghij"))
		require.NoError(t, err)
		require.NoError(t, w.Close(ctx))
		assert.Equal(t, "abcdefghij", readFileContent(t, f))
	})

	t.Run("truncate past the quota fails", func(t *testing.T) {
		fs := newTestFS(t, WithQuota(8))
		_, w := newWriter(t, fs, "doc.txt", "")
		defer w.Abort(ctx)

		err := w.Truncate(ctx, 100)
		assert.ErrorIs(t, err, common.ErrQuotaExceeded)
		assert.Equal(t, int64(0), w.Length())
	})

	t.Run("shrinking settles the quota on close", func(t *testing.T) {
		fs := newTestFS(t, WithQuota(1024))
		_, w := newWriter(t, fs, "doc.txt", "0123456789")

		require.NoError(t, w.Truncate(ctx, 3))
		require.NoError(t, w.Close(ctx))

		usage, err := fs.Usage(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), usage)
	})
}

func TestCreateWriterOnMissingFile(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	f, err := fs.Root().GetFile(ctx, "doc.txt", Flags{Create: true})
	require.NoError(t, err)
	require.NoError(t, f.Remove(ctx))

	_, err = f.CreateWriter(ctx)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReadyStateString(t *testing.T) {
	assert.Equal(t, "init", Init.String())
	assert.Equal(t, "writing", Writing.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "unknown", ReadyState(42).String())
}
