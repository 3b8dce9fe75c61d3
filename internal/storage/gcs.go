package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/expense-tracker/apiserver/config"
	"google.golang.org/api/option"
)

// GCSClient keeps receipts in a Google Cloud Storage bucket.
type GCSClient struct {
	client    *gcs.Client
	bucket    string
	projectID string
}

// NewGCSClient constructs a GCS client from config.
func NewGCSClient(ctx context.Context, cfg config.GCSConfig) (*GCSClient, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &GCSClient{client: client, bucket: cfg.Bucket, projectID: cfg.ProjectID}, nil
}

// EnsureBucket creates the receipts bucket when it is missing; creating
// needs a project id.
func (g *GCSClient) EnsureBucket(ctx context.Context) error {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gcs.ErrBucketNotExist) {
		return err
	}
	if strings.TrimSpace(g.projectID) == "" {
		return errors.New("gcs project id is required to create bucket")
	}
	return g.client.Bucket(g.bucket).Create(ctx, g.projectID, nil)
}

// PutReceipt uploads the receipt with its owner and expense ids as object metadata.
func (g *GCSClient) PutReceipt(ctx context.Context, key string, r io.Reader, info ReceiptInfo) error {
	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = info.ContentType
	writer.Metadata = info.metadata()
	// Upload in a single request.
	writer.ChunkSize = 0

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return fmt.Errorf("put receipt %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("put receipt %s: %w", key, err)
	}
	return nil
}

// OpenReceipt reads the object generation whose attributes it returns, so
// a concurrent replacement cannot mix metadata and content.
func (g *GCSClient) OpenReceipt(ctx context.Context, key string) (io.ReadCloser, ReceiptInfo, error) {
	obj := g.client.Bucket(g.bucket).Object(key)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, ReceiptInfo{}, fromGCSError(err, key)
	}

	reader, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, ReceiptInfo{}, fromGCSError(err, key)
	}
	return reader, receiptInfo(attrs.Metadata, attrs.ContentType, attrs.Size), nil
}

// DeleteReceipt removes the object; a missing object counts as deleted.
func (g *GCSClient) DeleteReceipt(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete receipt %s: %w", key, err)
	}
	return nil
}

// Bucket returns the configured bucket name.
func (g *GCSClient) Bucket() string {
	return g.bucket
}

// Close closes the underlying GCS client.
func (g *GCSClient) Close() error {
	return g.client.Close()
}

func fromGCSError(err error, key string) error {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("receipt %s: %w", key, err)
}
