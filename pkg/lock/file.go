package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"

	"golang.org/x/sys/unix"
)

// DefaultStaleThreshold is the age after which an unheld lock file is removed.
const DefaultStaleThreshold = 10 * time.Second

const acquireAttempts = 3

// FileLocker locks uploads with an exclusive flock on <dir>/<id>.
//
// The file is removed on release, so a leftover file means a request died
// while holding it. Staleness is judged from the file mtime, which is
// refreshed on every acquisition. mtime is subject to clock skew and
// filesystem granularity, so staleness is best effort only: the sweep never
// removes a file whose flock is still held.
type FileLocker struct {
	dir            string
	ids            upload.IDFactory
	staleThreshold time.Duration
	now            func() time.Time
}

// NewFileLocker creates the lock directory if needed.
func NewFileLocker(dir string, ids upload.IDFactory, staleThreshold time.Duration) (*FileLocker, error) {
	if dir == "" {
		return nil, errors.New("lock directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	return &FileLocker{
		dir:            dir,
		ids:            ids,
		staleThreshold: staleThreshold,
		now:            time.Now,
	}, nil
}

func (l *FileLocker) path(id upload.ID) string {
	return filepath.Join(l.dir, id.String())
}

func (l *FileLocker) LockByURI(ctx context.Context, uri string) (Lock, error) {
	return lockByURI(ctx, l, l.ids, uri)
}

func (l *FileLocker) Lock(ctx context.Context, id upload.ID) (Lock, error) {
	if id.IsZero() {
		return nil, upload.ErrBlankID
	}
	path := l.path(id)

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}

		if err := tryFlock(f); err != nil {
			f.Close()
			return nil, err
		}

		// The previous holder may have removed the file between our open
		// and flock, in which case we locked an orphaned inode.
		if !sameFile(f, path) {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			continue
		}

		now := l.now()
		if err := os.Chtimes(path, now, now); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("upload_id", id.String()).Msg("failed to touch lock file")
		}
		return &fileLock{id: id, path: path, f: f}, nil
	}
	return nil, heldError(id)
}

// IsLocked tests the flock by briefly taking a shared one, since F_GETLK does
// not see flock locks on Linux. A Lock racing with the check can fail with
// ErrLockHeld while the shared lock is taken; the client sees 423 and
// retries. Shared probes do not conflict with each other.
func (l *FileLocker) IsLocked(ctx context.Context, id upload.ID) (bool, error) {
	f, err := os.OpenFile(l.path(id), os.O_RDWR, 0)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	err = tryFlockMode(f, unix.LOCK_SH)
	if errors.Is(err, ErrLockHeld) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}

// CleanupStaleLocks removes lock files older than the stale threshold that
// nobody holds.
func (l *FileLocker) CleanupStaleLocks(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("read lock directory: %w", err)
	}

	cutoff := l.now().Add(-l.staleThreshold)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil || !fi.ModTime().Before(cutoff) {
			continue
		}

		ok, err := l.removeIfUnheld(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to remove stale lock")
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// removeIfUnheld takes the exclusive flock before removing path, so like
// IsLocked it can make a concurrent Lock on the same stale file fail once.
func (l *FileLocker) removeIfUnheld(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := tryFlock(f); err != nil {
		if errors.Is(err, ErrLockHeld) {
			return false, nil
		}
		return false, err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if !sameFile(f, path) {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return true, nil
}

func tryFlock(f *os.File) error {
	return tryFlockMode(f, unix.LOCK_EX)
}

func tryFlockMode(f *os.File, how int) error {
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) {
		return heldError(upload.ID(filepath.Base(f.Name())))
	}
	return fmt.Errorf("flock %s: %w", f.Name(), err)
}

func sameFile(f *os.File, path string) bool {
	a, err := f.Stat()
	if err != nil {
		return false
	}
	b, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}

type fileLock struct {
	id   upload.ID
	path string

	mu sync.Mutex
	f  *os.File
}

func (l *fileLock) ID() upload.ID {
	return l.id
}

// Release removes the lock file before unlocking so no one can lock a file
// that is about to disappear without noticing.
func (l *fileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	rmErr := os.Remove(l.path)
	if os.IsNotExist(rmErr) {
		rmErr = nil
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return errors.Join(rmErr, f.Close())
}

var _ Locker = (*FileLocker)(nil)
