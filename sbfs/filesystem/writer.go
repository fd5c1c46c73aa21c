package filesystem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vfskit/sandboxfs/sbfs/filesystem/common"
	"github.com/vfskit/sandboxfs/sbfs/storage"
)

// ReadyState is the lifecycle state of a FileWriter.
type ReadyState int

const (
	// Init means no write has started yet.
	Init ReadyState = iota
	// Writing means an operation is in flight; a writer in this state
	// rejects further operations with ErrInvalidState.
	Writing
	// Done means the last operation finished.
	Done
)

func (s ReadyState) String() string {
	switch s {
	case Init:
		return "init"
	case Writing:
		return "writing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// FileWriter writes bytes to a file through an explicit position cursor.
//
// All writes land in a staged copy of the file; the target is replaced
// atomically on Close, so an aborted or crashed writer never leaves the file
// half-written. Growth is reserved against the filesystem quota as it
// happens; a write or truncate that would exceed the quota fails with
// ErrQuotaExceeded and leaves writer state unchanged.
type FileWriter struct {
	entry  *FileEntry
	staged storage.Staged

	mu       sync.Mutex
	state    ReadyState
	closed   bool
	pos      int64
	length   int64
	origLen  int64
	reserved int64
}

// ReadyState returns the writer's lifecycle state.
func (w *FileWriter) ReadyState() ReadyState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Position returns the current write cursor.
func (w *FileWriter) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}

// Length returns the staged file length.
func (w *FileWriter) Length() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.length
}

// begin transitions the writer into Writing, rejecting reentrant use.
func (w *FileWriter) begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("writer for %s is closed: %w", w.entry.fullPath, common.ErrInvalidState)
	}
	if w.state == Writing {
		return fmt.Errorf("writer for %s is busy: %w", w.entry.fullPath, common.ErrInvalidState)
	}
	w.state = Writing
	return nil
}

func (w *FileWriter) end() {
	w.mu.Lock()
	w.state = Done
	w.mu.Unlock()
}

// reserve accounts prospective growth of the staged file against the quota.
func (w *FileWriter) reserve(ctx context.Context, projected int64) error {
	need := projected - w.origLen - w.reserved
	if need <= 0 {
		return nil
	}
	if err := w.entry.fs.accounts.Adjust(ctx, w.entry.fs.id, need); err != nil {
		return err
	}
	w.reserved += need
	return nil
}

// Write writes p at the current position, overwriting existing bytes and
// extending the file as needed, then advances the position.
func (w *FileWriter) Write(ctx context.Context, p []byte) (int, error) {
	if err := w.begin(); err != nil {
		return 0, err
	}
	defer w.end()

	projected := w.pos + int64(len(p))
	if projected < w.length {
		projected = w.length
	}
	if err := w.reserve(ctx, projected); err != nil {
		return 0, err
	}

	n, err := w.staged.WriteAt(p, w.pos)
	w.mu.Lock()
	w.pos += int64(n)
	if w.pos > w.length {
		w.length = w.pos
	}
	w.mu.Unlock()

	if err != nil {
		return n, fmt.Errorf("write to %s failed: %w", w.entry.fullPath, err)
	}
	return n, nil
}

// Seek moves the position cursor. A negative offset is relative to the end
// of the file. The result is clamped to [0, Length].
func (w *FileWriter) Seek(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer for %s is closed: %w", w.entry.fullPath, common.ErrInvalidState)
	}
	if w.state == Writing {
		return fmt.Errorf("writer for %s is busy: %w", w.entry.fullPath, common.ErrInvalidState)
	}

	pos := offset
	if pos < 0 {
		pos = w.length + pos
	}
	if pos < 0 {
		pos = 0
	}
	if pos > w.length {
		pos = w.length
	}
	w.pos = pos
	return nil
}

// Truncate changes the staged file's length. The position cursor clamps to
// the new length.
func (w *FileWriter) Truncate(ctx context.Context, size int64) error {
	if size < 0 {
		return fmt.Errorf("negative truncate length %d: %w", size, common.ErrSyntax)
	}
	if err := w.begin(); err != nil {
		return err
	}
	defer w.end()

	if err := w.reserve(ctx, size); err != nil {
		return err
	}
	if err := w.staged.Truncate(size); err != nil {
		return fmt.Errorf("truncate of %s failed: %w", w.entry.fullPath, err)
	}

	w.mu.Lock()
	w.length = size
	if w.pos > size {
		w.pos = size
	}
	w.mu.Unlock()
	return nil
}

// Close commits the staged bytes to the target file atomically and settles
// quota accounting. Closing an already-closed writer is a no-op.
func (w *FileWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	if w.state == Writing {
		w.mu.Unlock()
		return fmt.Errorf("writer for %s is busy: %w", w.entry.fullPath, common.ErrInvalidState)
	}
	w.closed = true
	w.state = Done
	w.mu.Unlock()

	if err := w.entry.fs.provider.Commit(ctx, w.staged, w.entry.fullPath); err != nil {
		// The target is untouched; give the reservation back.
		w.settle(ctx, -w.reserved)
		w.staged.Discard()
		return err
	}

	// Reservations covered peak growth; settle down to the final length.
	w.settle(ctx, (w.length-w.origLen)-w.reserved)
	w.entry.fs.pathIndex.Remove(w.entry.fullPath)
	return nil
}

// Abort discards all staged bytes, leaving the target file untouched, and
// releases any quota reservation. The writer is unusable afterwards.
func (w *FileWriter) Abort(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("writer for %s is closed: %w", w.entry.fullPath, common.ErrInvalidState)
	}
	w.closed = true
	w.state = Done
	w.mu.Unlock()

	w.settle(ctx, -w.reserved)
	if err := w.staged.Discard(); err != nil {
		return fmt.Errorf("abort of %s: %w", w.entry.fullPath, err)
	}
	return nil
}

// settle applies a final accounting delta, logging instead of failing:
// negative settlements must not mask the outcome of the operation itself.
func (w *FileWriter) settle(ctx context.Context, delta int64) {
	if delta == 0 {
		return
	}
	if err := w.entry.fs.accounts.Adjust(ctx, w.entry.fs.id, delta); err != nil {
		slog.Warn("failed to settle quota accounting",
			"path", w.entry.fullPath,
			"delta", delta,
			"error", err)
	}
	w.mu.Lock()
	w.reserved += delta
	w.mu.Unlock()
}
