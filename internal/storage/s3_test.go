package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivmlib-go/aivmlib/internal/config"
)

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var (
	errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}
	errNotFound  = &apiError{code: "NotFound", msg: "not found"}
)

// mockS3 is a thread-safe in-memory S3 backend. ListObjectsV2 returns pages
// of pageSize keys.
type mockS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int

	getErr error
	putErr error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte), pageSize: 2}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, errNotFound
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	out := &s3.ListObjectsV2Output{}
	if len(keys) > m.pageSize {
		keys = keys[:m.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (m *mockS3) put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = []byte(value)
}

func TestS3WriteAndRead(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "bucket", "models/", 0)
	ctx := context.Background()

	require.NoError(t, store.WriteFile(ctx, "a.aivm", []byte("hello s3")))
	assert.Contains(t, mock.objects, "models/a.aivm")

	got, err := store.ReadFile(ctx, "a.aivm")
	require.NoError(t, err)
	assert.Equal(t, "hello s3", string(got))
}

func TestS3ReadErrors(t *testing.T) {
	store := NewS3(newMockS3(), "bucket", "", 0)
	_, err := store.ReadFile(context.Background(), "missing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	mock := newMockS3()
	mock.getErr = errors.New("network timeout")
	store = NewS3(mock, "bucket", "", 0)
	_, err = store.ReadFile(context.Background(), "x")
	assert.EqualError(t, err, "network timeout")
	assert.NotErrorIs(t, err, os.ErrNotExist)
}

func TestS3ReadLimit(t *testing.T) {
	mock := newMockS3()
	mock.put("big", "0123456789")
	store := NewS3(mock, "bucket", "", 5)

	_, err := store.ReadFile(context.Background(), "big")
	assert.ErrorContains(t, err, "exceeds 5 bytes")
}

func TestS3WriteError(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("upload failed")
	store := NewS3(mock, "bucket", "", 0)

	assert.EqualError(t, store.WriteFile(context.Background(), "obj", []byte("x")), "upload failed")
}

func TestS3ExistsAndDelete(t *testing.T) {
	mock := newMockS3()
	store := NewS3(mock, "bucket", "", 0)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "tmp")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.put("tmp", "x")
	ok, err = store.Exists(ctx, "tmp")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "tmp"))
	require.NoError(t, store.Delete(ctx, "tmp"))
	ok, err = store.Exists(ctx, "tmp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3List(t *testing.T) {
	mock := newMockS3()
	for _, k := range []string{"pfx/m/a.aivm", "pfx/m/b.aivm", "pfx/m/c.txt", "pfx/m/d.aivm", "pfx/n/e.aivm", "other/f.aivm"} {
		mock.put(k, "x")
	}
	store := NewS3(mock, "bucket", "pfx", 0)

	got, err := store.List(context.Background(), "m/", ".aivm")
	require.NoError(t, err)
	assert.Equal(t, []string{"m/a.aivm", "m/b.aivm", "m/d.aivm"}, got)
}

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"NoSuchKey", errNoSuchKey, true},
		{"NotFound", errNotFound, true},
		{"other api error", &apiError{code: "AccessDenied", msg: "denied"}, false},
		{"plain error", errors.New("timeout"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isS3NotFound(tt.err))
		})
	}
}

func TestNewS3Client(t *testing.T) {
	client := NewS3Client(config.S3Config{
		Region:          "ap-northeast-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	opts := client.Options()
	assert.Equal(t, "ap-northeast-1", opts.Region)
	assert.Equal(t, "http://127.0.0.1:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)

	creds, err := opts.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key", creds.AccessKeyID)
}
