package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func init() {
	Register(TypeLocal, NewLocal)
}

// Local stores segments as files below a base directory. A segment becomes
// visible under its key only once it is complete and synced.
type Local struct {
	basePath string
}

// NewLocal creates a local filesystem backend
func NewLocal(cfg Config) (Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path required for local backend")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create base path: %w", err)
	}
	return &Local{basePath: filepath.Clean(cfg.Path)}, nil
}

func (l *Local) Type() Type {
	return TypeLocal
}

// path maps key below basePath, rejecting keys that would escape it.
func (l *Local) path(key string) (string, error) {
	p := filepath.Join(l.basePath, filepath.FromSlash(key))
	if p == l.basePath || !strings.HasPrefix(p, l.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return p, nil
}

func (l *Local) Write(ctx context.Context, key string, data io.Reader, size int64) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, data)
	if err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("write segment: got %d bytes, expected %d", n, size)
	}
	if err := syncData(tmp); err != nil {
		return fmt.Errorf("sync segment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish segment: %w", err)
	}
	committed = true
	return syncDir(dir)
}

func (l *Local) open(key string) (*os.File, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

func (l *Local) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	return l.open(key)
}

func (l *Local) ReadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := l.open(key)
	if err != nil {
		return nil, err
	}
	return &limitedReadCloser{
		Reader: io.NewSectionReader(f, offset, length),
		Closer: f,
	}, nil
}

// Delete removes the segment and its upload directory once it is empty.
func (l *Local) Delete(ctx context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if dir := filepath.Dir(path); dir != l.basePath {
		// fails while other segments remain
		_ = os.Remove(dir)
	}
	return nil
}

func (l *Local) Close() error {
	return nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}
