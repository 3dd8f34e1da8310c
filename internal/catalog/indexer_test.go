package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivmlib-go/aivmlib/internal/container"
	"github.com/aivmlib-go/aivmlib/internal/queue"
	"github.com/aivmlib-go/aivmlib/internal/schema/schematest"
	"github.com/aivmlib-go/aivmlib/internal/storage"
)

func newTestIndexer(t *testing.T) (*Indexer, storage.Store) {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir(), 0)
	require.NoError(t, err)
	pool := queue.NewPool(queue.Config{Workers: 2})
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	ix := NewIndexer(openTestCatalog(t), store, pool, zerolog.Nop())
	ix.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return ix, store
}

func writeModel(t *testing.T, store storage.Store, path string) []byte {
	t.Helper()
	data, err := container.Encode(schematest.Safetensors(), schematest.Metadata(t))
	require.NoError(t, err)
	require.NoError(t, store.WriteFile(context.Background(), path, data))
	return data
}

func TestIndexerIndex(t *testing.T) {
	ix, store := newTestIndexer(t)
	ctx := context.Background()
	data := writeModel(t, store, "a/model.aivm")

	e, err := ix.Index(ctx, "a/model.aivm")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), e.FileSize)

	got, err := ix.cat.Get(ctx, schematest.ModelUUID)
	require.NoError(t, err)
	assert.Equal(t, "a/model.aivm", got.Source)

	raw, err := ix.Open(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestIndexerRejectsBareSafetensors(t *testing.T) {
	ix, store := newTestIndexer(t)
	ctx := context.Background()
	require.NoError(t, store.WriteFile(ctx, "bare.aivm", schematest.Safetensors()))

	_, err := ix.Index(ctx, "bare.aivm")
	assert.ErrorIs(t, err, container.ErrManifestNotFound)
}

func TestIndexerScan(t *testing.T) {
	ix, store := newTestIndexer(t)
	ctx := context.Background()
	writeModel(t, store, "models/one.aivm")
	require.NoError(t, store.WriteFile(ctx, "models/broken.aivm", []byte("junk")))
	require.NoError(t, store.WriteFile(ctx, "models/notes.txt", []byte("ignored")))

	results, err := ix.Scan(ctx, "models")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "models/broken.aivm", results[0].Name)
	assert.Error(t, results[0].Err)
	assert.Equal(t, "models/one.aivm", results[1].Name)
	assert.NoError(t, results[1].Err)

	list, err := ix.cat.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIndexerAdd(t *testing.T) {
	ix, store := newTestIndexer(t)
	ctx := context.Background()
	data, err := container.Encode(schematest.Safetensors(), schematest.Metadata(t))
	require.NoError(t, err)

	e, err := ix.Add(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, schematest.ModelUUID.String()+".aivm", e.Source)

	ok, err := store.Exists(ctx, e.Source)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = ix.Add(ctx, []byte("junk"))
	assert.True(t, container.IsFormatError(err))
}
