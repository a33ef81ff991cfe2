// Package objectstore stores program artifacts in an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/c00lpeace/project-template-final/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Gateway puts and gets whole objects by key.
type Gateway interface {
	// Put stores data under key and returns its location.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// MinioGateway implements Gateway on minio-go.
type MinioGateway struct {
	client *minio.Client
	bucket string
}

// NewMinioGateway connects to the endpoint and creates the bucket if needed.
func NewMinioGateway(ctx context.Context, cfg config.StorageConfig) (*MinioGateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	g := &MinioGateway{client: client, bucket: cfg.Bucket}
	if err := g.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (g *MinioGateway) EnsureBucket(ctx context.Context) error {
	exists, err := g.client.BucketExists(ctx, g.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := g.client.MakeBucket(ctx, g.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

func (g *MinioGateway) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := g.client.PutObject(ctx, g.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return Location(g.bucket, key), nil
}

func (g *MinioGateway) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := g.client.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("s3 read object %s: %w", key, err)
	}
	return data, nil
}

// Ping checks that the bucket is reachable.
func (g *MinioGateway) Ping(ctx context.Context) error {
	_, err := g.client.BucketExists(ctx, g.bucket)
	return err
}

// Location renders the identifier returned by Put.
func Location(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// Compile-time check that MinioGateway implements Gateway.
var _ Gateway = (*MinioGateway)(nil)
