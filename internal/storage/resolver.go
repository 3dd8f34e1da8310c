package storage

import (
	"fmt"
	"sync"

	"github.com/aivmlib-go/aivmlib/internal/config"
)

// Resolver maps locations to stores. Local paths go to an unrooted local
// store; s3:// locations get one S3 store per bucket, sharing a client.
type Resolver struct {
	local *Local
	limit int64

	mu        sync.Mutex
	newClient func() S3Client
	client    S3Client
	buckets   map[string]*S3Store
}

// NewResolver returns a resolver using cfg for S3 settings. Reads larger than
// limit bytes fail; 0 disables the limit.
func NewResolver(cfg config.S3Config, limit int64) *Resolver {
	local, _ := NewLocal("", limit)
	return &Resolver{
		local:     local,
		limit:     limit,
		newClient: func() S3Client { return NewS3Client(cfg) },
		buckets:   map[string]*S3Store{},
	}
}

// NewResolverWithClient returns a resolver that uses client for every bucket.
func NewResolverWithClient(client S3Client, limit int64) *Resolver {
	r := NewResolver(config.S3Config{}, limit)
	r.client = client
	return r
}

// Resolve parses location and returns the store holding it and the path
// within that store.
func (r *Resolver) Resolve(location string) (Store, string, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, "", err
	}
	if !loc.IsS3() {
		return r.local, loc.Path, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.buckets[loc.Bucket]; ok {
		return s, loc.Path, nil
	}
	if r.client == nil {
		r.client = r.newClient()
	}
	s := NewS3(r.client, loc.Bucket, "", r.limit)
	r.buckets[loc.Bucket] = s
	return s, loc.Path, nil
}

// New builds the store selected by cfg.
func New(cfg config.StorageConfig, limit int64) (Store, error) {
	switch cfg.Backend {
	case config.StorageLocal, "":
		return NewLocal(cfg.Root, limit)
	case config.StorageS3:
		return NewS3(NewS3Client(cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix, limit), nil
	}
	return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
}
