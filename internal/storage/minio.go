package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/expense-tracker/apiserver/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient keeps receipts in a MinIO (or any S3 compatible) bucket.
type MinioClient struct {
	client *minio.Client
	bucket string
}

// NewMinioClient constructs a MinIO client from config.
func NewMinioClient(cfg config.MinioConfig) (*MinioClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("minio access key and secret key are required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	return &MinioClient{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the receipts bucket on first start.
func (m *MinioClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
}

// PutReceipt uploads the receipt with its owner and expense ids as user metadata.
func (m *MinioClient) PutReceipt(ctx context.Context, key string, r io.Reader, info ReceiptInfo) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, info.Size, minio.PutObjectOptions{
		ContentType:  info.ContentType,
		UserMetadata: info.metadata(),
	})
	if err != nil {
		return fmt.Errorf("put receipt %s: %w", key, err)
	}
	return nil
}

// OpenReceipt stats the object before returning it, so a missing key is
// reported here as ErrNotFound rather than on the first read.
func (m *MinioClient) OpenReceipt(ctx context.Context, key string) (io.ReadCloser, ReceiptInfo, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ReceiptInfo{}, fromMinioError(err, key)
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, ReceiptInfo{}, fromMinioError(err, key)
	}
	return obj, receiptInfo(stat.UserMetadata, stat.ContentType, stat.Size), nil
}

// DeleteReceipt removes the object. S3 deletes are idempotent.
func (m *MinioClient) DeleteReceipt(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fromMinioError(err, key)
	}
	return nil
}

// Bucket returns the configured bucket name.
func (m *MinioClient) Bucket() string {
	return m.bucket
}

// Close is a no-op; the MinIO client holds no long-lived connections.
func (m *MinioClient) Close() error {
	return nil
}

func fromMinioError(err error, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("receipt %s: %w", key, err)
}
