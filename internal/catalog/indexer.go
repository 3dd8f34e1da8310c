package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aivmlib-go/aivmlib/internal/container"
	"github.com/aivmlib-go/aivmlib/internal/queue"
	"github.com/aivmlib-go/aivmlib/internal/storage"
)

// Extension is the file suffix Scan looks for.
const Extension = ".aivm"

// Indexer reads model files from a store and records them in a catalog.
type Indexer struct {
	cat   *Catalog
	store storage.Store
	pool  *queue.Pool
	log   zerolog.Logger
	now   func() time.Time
}

// NewIndexer returns an Indexer. pool bounds IndexAll and Scan.
func NewIndexer(cat *Catalog, store storage.Store, pool *queue.Pool, log zerolog.Logger) *Indexer {
	return &Indexer{cat: cat, store: store, pool: pool, log: log, now: time.Now}
}

// Index reads path from the store, decodes it and stores the entry.
func (ix *Indexer) Index(ctx context.Context, path string) (*Entry, error) {
	data, err := ix.store.ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ix.IndexData(ctx, path, data)
}

// IndexData indexes container bytes already read from path.
func (ix *Indexer) IndexData(ctx context.Context, path string, data []byte) (*Entry, error) {
	md, err := container.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	layout, err := container.Inspect(data)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}

	e := NewEntry(md, layout, path, int64(len(data)), ix.now())
	if err := ix.cat.Put(ctx, e); err != nil {
		return nil, err
	}
	ix.log.Info().
		Str("path", path).
		Str("uuid", e.UUID).
		Str("name", e.Name).
		Int("speakers", len(e.Speakers)).
		Msg("model indexed")
	return &e, nil
}

// Add writes container bytes to the store as <uuid>.aivm and indexes them.
// An existing file for the same model is replaced.
func (ix *Indexer) Add(ctx context.Context, data []byte) (*Entry, error) {
	md, err := container.Decode(data)
	if err != nil {
		return nil, err
	}
	path := md.Manifest.UUID.String() + Extension
	if err := ix.store.WriteFile(ctx, path, data); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return ix.IndexData(ctx, path, data)
}

// IndexAll indexes every path on the pool. Results follow the order of paths.
func (ix *Indexer) IndexAll(ctx context.Context, paths []string) []queue.Result {
	jobs := make([]queue.Job, len(paths))
	for i, p := range paths {
		jobs[i] = queue.Job{
			Name: p,
			Fn: func(ctx context.Context) error {
				_, err := ix.Index(ctx, p)
				return err
			},
		}
	}
	results := ix.pool.RunAll(ctx, jobs)
	for _, r := range results {
		if r.Err != nil {
			ix.log.Warn().Err(r.Err).Str("path", r.Name).Msg("index failed")
		}
	}
	return results
}

// Scan indexes every file under prefix ending in Extension.
func (ix *Indexer) Scan(ctx context.Context, prefix string) ([]queue.Result, error) {
	paths, err := ix.store.List(ctx, prefix, Extension)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return ix.IndexAll(ctx, paths), nil
}

// Open returns the stored bytes of an indexed model.
func (ix *Indexer) Open(ctx context.Context, e *Entry) ([]byte, error) {
	return ix.store.ReadFile(ctx, e.Source)
}
