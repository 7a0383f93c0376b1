// Package minio implements the blob store port against any S3-compatible
// object store. Artifacts are content-addressed by the caller, so the
// adapter only moves bytes.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

var _ driven.BlobStore = (*BlobStore)(nil)

// Config holds the object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// BlobStore keeps raw uploaded artifacts in one bucket.
type BlobStore struct {
	client *minio.Client
	bucket string
}

// NewBlobStore creates the client and ensures the bucket exists.
func NewBlobStore(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("blob store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("blob store bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	s := &BlobStore{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BlobStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: failed to check bucket %s: %v", domain.ErrExternal, s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		// A concurrent instance may have created it first.
		exists, checkErr := s.client.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("%w: failed to create bucket %s: %v", domain.ErrExternal, s.bucket, err)
	}
	return nil
}

// Put stores an artifact under the given key. Re-putting the same key
// overwrites in place, which is harmless because keys are content-addressed.
func (s *BlobStore) Put(ctx context.Context, key string, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("%w: failed to store %s: %v", domain.ErrExternal, key, err)
	}
	return nil
}

// Get retrieves an artifact. The caller closes the reader.
func (s *BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", domain.ErrExternal, key, err)
	}
	// GetObject is lazy; surface missing keys now instead of at first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("artifact %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to stat %s: %v", domain.ErrExternal, key, err)
	}
	return obj, nil
}

// Delete removes an artifact; missing objects are not an error.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("%w: failed to delete %s: %v", domain.ErrExternal, key, err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (s *BlobStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: blob store unreachable: %v", domain.ErrExternal, err)
	}
	if !exists {
		return fmt.Errorf("%w: bucket %s does not exist", domain.ErrExternal, s.bucket)
	}
	return nil
}
