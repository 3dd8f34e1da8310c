// Package catalog indexes the manifests of stored model files in BadgerDB.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aivmlib-go/aivmlib/internal/container"
	"github.com/aivmlib-go/aivmlib/internal/schema"
)

// ErrNotFound is returned when no entry exists for a model UUID.
var ErrNotFound = errors.New("catalog: model not found")

const keyPrefix = "model/"

// Entry is the indexed summary of one model file.
type Entry struct {
	UUID          string         `json:"uuid" msgpack:"uuid"`
	Name          string         `json:"name" msgpack:"name"`
	Version       string         `json:"version" msgpack:"version"`
	Description   string         `json:"description" msgpack:"description"`
	Creators      []string       `json:"creators" msgpack:"creators"`
	Architecture  string         `json:"model_architecture" msgpack:"model_architecture"`
	ModelFormat   string         `json:"model_format" msgpack:"model_format"`
	Speakers      []SpeakerEntry `json:"speakers" msgpack:"speakers"`
	Source        string         `json:"source" msgpack:"source"`
	PayloadDigest string         `json:"payload_digest" msgpack:"payload_digest"`
	HeaderSize    int            `json:"header_size" msgpack:"header_size"`
	FileSize      int64          `json:"file_size" msgpack:"file_size"`
	IndexedAt     time.Time      `json:"indexed_at" msgpack:"indexed_at"`
}

// SpeakerEntry summarizes one speaker of an indexed model.
type SpeakerEntry struct {
	Name      string       `json:"name" msgpack:"name"`
	UUID      string       `json:"uuid" msgpack:"uuid"`
	LocalID   int          `json:"local_id" msgpack:"local_id"`
	Languages []string     `json:"supported_languages" msgpack:"supported_languages"`
	Styles    []StyleEntry `json:"styles" msgpack:"styles"`
}

// StyleEntry is a style name and its local ID.
type StyleEntry struct {
	Name    string `json:"name" msgpack:"name"`
	LocalID int    `json:"local_id" msgpack:"local_id"`
}

// NewEntry summarizes decoded metadata. Icons and voice samples are left out.
func NewEntry(md *schema.Metadata, layout *container.Layout, source string, size int64, now time.Time) Entry {
	m := md.Manifest
	e := Entry{
		UUID:         m.UUID.String(),
		Name:         m.Name,
		Version:      m.Version,
		Description:  m.Description,
		Creators:     slices.Clone(m.Creators),
		Architecture: string(m.ModelArchitecture),
		ModelFormat:  string(m.ModelFormat),
		Speakers:     make([]SpeakerEntry, 0, len(m.Speakers)),
		Source:       source,
		FileSize:     size,
		IndexedAt:    now.UTC(),
	}
	if layout != nil {
		e.PayloadDigest = layout.PayloadDigest
		e.HeaderSize = layout.HeaderSize
	}
	for _, sp := range m.Speakers {
		se := SpeakerEntry{
			Name:      sp.Name,
			UUID:      sp.UUID.String(),
			LocalID:   sp.LocalID,
			Languages: slices.Clone(sp.SupportedLanguages),
			Styles:    make([]StyleEntry, 0, len(sp.Styles)),
		}
		for _, st := range sp.Styles {
			se.Styles = append(se.Styles, StyleEntry{Name: st.Name, LocalID: st.LocalID})
		}
		e.Speakers = append(e.Speakers, se)
	}
	return e
}

// StyleCount returns the number of styles across all speakers.
func (e *Entry) StyleCount() int {
	n := 0
	for _, sp := range e.Speakers {
		n += len(sp.Styles)
	}
	return n
}

// Options configures Open.
type Options struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   zerolog.Logger
}

// Catalog is a BadgerDB-backed model index. It is safe for concurrent use.
type Catalog struct {
	db *badger.DB
}

// Open opens or creates a catalog.
func Open(opts Options) (*Catalog, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("catalog: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{log: opts.Logger})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{log: opts.Logger})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	return &Catalog{db: db}, nil
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

// Put stores e, replacing any entry with the same UUID.
func (c *Catalog) Put(_ context.Context, e Entry) error {
	if _, err := uuid.Parse(e.UUID); err != nil {
		return fmt.Errorf("catalog: invalid uuid %q: %w", e.UUID, err)
	}
	val, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("catalog: encode %s: %w", e.UUID, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(e.UUID), val)
	})
}

// Get returns the entry for id or ErrNotFound.
func (c *Catalog) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	var e Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id.String()))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", id, err)
	}
	return &e, nil
}

// Delete removes the entry for id. It returns ErrNotFound if there is none.
func (c *Catalog) Delete(_ context.Context, id uuid.UUID) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		k := key(id.String())
		if _, err := txn.Get(k); err != nil {
			return err
		}
		return txn.Delete(k)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// List returns every entry ordered by name, then UUID.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	prefix := []byte(keyPrefix)
	out := []Entry{}
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("catalog: decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.UUID, b.UUID))
	})
	return out, nil
}

// Close flushes and closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// badgerLogger forwards badger warnings and errors to zerolog and drops the rest.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error().Str("component", "badger").Msgf(f, v...)
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn().Str("component", "badger").Msgf(f, v...)
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
