package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

// Local implements Store on the local filesystem.
//
// A rooted store resolves paths under its root and rejects paths that would
// escape it. An unrooted store (root "") uses paths as given, which is what
// the command line wants.
type Local struct {
	root  string
	limit int64
}

// NewLocal creates a Local store rooted at dir, creating it if needed.
// Pass "" for an unrooted store. Reads larger than limit bytes fail; 0
// disables the limit.
func NewLocal(dir string, limit int64) (*Local, error) {
	if dir == "" {
		return &Local{limit: limit}, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs, limit: limit}, nil
}

func (l *Local) resolve(path string) (string, error) {
	if l.root == "" {
		return filepath.Clean(filepath.FromSlash(path)), nil
	}
	rel := filepath.FromSlash(path)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("storage: path %q escapes the store root", path)
	}
	return filepath.Join(l.root, rel), nil
}

// ReadFile reads the named file.
func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f, l.limit)
}

// WriteFile writes data to a temporary file and renames it into place while
// holding an advisory lock on "<path>.lock", so concurrent writers of the
// same file are serialized and readers never see a partial file. An existing
// file keeps its permissions; a new one gets 0644. The lock file is removed
// before the lock is released.
func (l *Local) WriteFile(ctx context.Context, path string, data []byte) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	lock := flock.New(full + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("storage: lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("storage: could not lock %s", path)
	}
	defer func() {
		_ = os.Remove(lock.Path())
		_ = lock.Unlock()
	}()

	mode := fs.FileMode(0o644)
	if fi, err := os.Stat(full); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), full)
}

// Delete removes the named file.
func (l *Local) Delete(_ context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Exists reports whether the named file exists.
func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	full, err := l.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// List walks the directory prefix and returns matching regular files, sorted.
// Returned paths use the same form as prefix.
func (l *Local) List(ctx context.Context, prefix, suffix string) ([]string, error) {
	if prefix == "" {
		prefix = "."
	}
	base, err := l.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var out []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(filepath.Join(prefix, rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

var _ Store = (*Local)(nil)
