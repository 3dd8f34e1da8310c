// Package storage reads and writes whole model files on local disk or in
// S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Store is a minimal whole-file storage interface. Model files are small
// enough to buffer, and the container codec works on byte slices.
//
// Paths are forward-slash separated. Implementations must be safe for
// concurrent use.
type Store interface {
	// ReadFile returns the content of the named file. If the file does not
	// exist, an error wrapping os.ErrNotExist is returned.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the named file with data. Readers never observe a
	// partially written file.
	WriteFile(ctx context.Context, path string, data []byte) error

	// Delete removes the named file. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the paths under prefix whose name ends in suffix.
	List(ctx context.Context, prefix, suffix string) ([]string, error)
}

// S3Scheme prefixes object storage locations.
const S3Scheme = "s3://"

// Location is a parsed file location.
type Location struct {
	// Bucket is empty for local paths.
	Bucket string
	Path   string
}

// IsS3 reports whether the location refers to object storage.
func (l Location) IsS3() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.IsS3() {
		return S3Scheme + l.Bucket + "/" + l.Path
	}
	return l.Path
}

// ParseLocation accepts "s3://bucket/key" or a local path.
func ParseLocation(s string) (Location, error) {
	rest, ok := strings.CutPrefix(s, S3Scheme)
	if !ok {
		if s == "" {
			return Location{}, fmt.Errorf("storage: empty path")
		}
		return Location{Path: s}, nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("storage: %q has no bucket", s)
	}
	return Location{Bucket: bucket, Path: key}, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("storage: file exceeds %d bytes", limit)
	}
	return data, nil
}
