package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps blobs in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and creates the bucket when missing.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("storage: minio endpoint is required")
	}
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: minio bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket %s: %w", bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, s.bucket, cleanKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", wrapKey("put", cleanKey, err)
	}
	return cleanKey, nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, cleanKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapKey("get", cleanKey, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, wrapKey("get", cleanKey, err)
	}
	return data, nil
}

var _ Blob = (*MinioStore)(nil)
