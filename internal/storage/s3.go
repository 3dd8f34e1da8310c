package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/aivmlib-go/aivmlib/internal/config"
)

// S3Client abstracts the S3 API operations used by S3Store.
// The *s3.Client type satisfies this interface.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store implements Store on Amazon S3 or any S3-compatible object store.
// Paths map to object keys under an optional prefix.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
	limit  int64
}

// NewS3 creates an S3-backed Store. Prefix is prepended to all object keys;
// pass "" for no prefix. Reads larger than limit bytes fail; 0 disables the limit.
func NewS3(client S3Client, bucket, prefix string, limit int64) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), limit: limit}
}

// NewS3Client builds an S3 client from configuration. Static credentials come
// from the config, then from the standard AWS_* environment variables; with
// neither, requests are sent unsigned.
func NewS3Client(cfg config.S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	keyID, secret, token := cfg.AccessKeyID, cfg.SecretAccessKey, ""
	if keyID == "" {
		keyID = os.Getenv("AWS_ACCESS_KEY_ID")
		secret = os.Getenv("AWS_SECRET_ACCESS_KEY")
		token = os.Getenv("AWS_SESSION_TOKEN")
	}
	if keyID != "" {
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     keyID,
				SecretAccessKey: secret,
				SessionToken:    token,
				Source:          "aivm",
			}, nil
		}))
	}
	return s3.New(opts)
}

func (s *S3Store) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// ReadFile downloads the named object.
func (s *S3Store) ReadFile(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("storage: read s3://%s/%s: %w", s.bucket, s.key(path), os.ErrNotExist)
		}
		return nil, err
	}
	defer out.Body.Close()
	return readLimited(out.Body, s.limit)
}

// WriteFile uploads data in a single PutObject call, which S3 applies atomically.
func (s *S3Store) WriteFile(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(path)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	return err
}

// Delete removes the named object. S3 deletes are already idempotent.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	return err
}

// Exists checks whether the named object exists via HeadObject.
func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List pages through ListObjectsV2 and returns the matching paths relative to
// the store prefix, sorted.
func (s *S3Store) List(ctx context.Context, prefix, suffix string) ([]string, error) {
	keyPrefix := s.key(prefix)
	var out []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, suffix) {
				continue
			}
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return out, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var _ Store = (*S3Store)(nil)
