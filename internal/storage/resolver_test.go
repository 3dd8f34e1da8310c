package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivmlib-go/aivmlib/internal/config"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		wantErr bool
	}{
		{in: "model.aivm", want: Location{Path: "model.aivm"}},
		{in: "/abs/model.aivm", want: Location{Path: "/abs/model.aivm"}},
		{in: "s3://bucket/dir/model.aivm", want: Location{Bucket: "bucket", Path: "dir/model.aivm"}},
		{in: "s3://bucket", want: Location{Bucket: "bucket"}},
		{in: "s3:///key", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "s3://b/k", Location{Bucket: "b", Path: "k"}.String())
}

func TestResolver(t *testing.T) {
	mock := newMockS3()
	r := NewResolverWithClient(mock, 0)
	ctx := context.Background()

	store, path, err := r.Resolve("s3://models/zundamon.aivm")
	require.NoError(t, err)
	require.NoError(t, store.WriteFile(ctx, path, []byte("x")))
	assert.Contains(t, mock.objects, "zundamon.aivm")

	again, _, err := r.Resolve("s3://models/other.aivm")
	require.NoError(t, err)
	assert.Same(t, store, again)

	local := filepath.Join(t.TempDir(), "local.aivm")
	store, path, err = r.Resolve(local)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, store)
	require.NoError(t, store.WriteFile(ctx, path, []byte("y")))
	data, err := store.ReadFile(ctx, local)
	require.NoError(t, err)
	assert.Equal(t, "y", string(data))
}

func TestNew(t *testing.T) {
	s, err := New(config.StorageConfig{Backend: config.StorageLocal, Root: t.TempDir()}, 0)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	s, err = New(config.StorageConfig{Backend: config.StorageS3, S3: config.S3Config{Bucket: "b", Region: "us-east-1"}}, 0)
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, s)

	_, err = New(config.StorageConfig{Backend: "ftp"}, 0)
	assert.Error(t, err)
}
