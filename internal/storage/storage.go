package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/expense-tracker/apiserver/config"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a receipt object is missing from the bucket.
var ErrNotFound = errors.New("receipt object not found")

const (
	metaOwnerID   = "owner-id"
	metaExpenseID = "expense-id"
)

// ReceiptInfo describes a stored receipt. Owner and expense ids travel with
// the object as user metadata.
type ReceiptInfo struct {
	OwnerID     uuid.UUID
	ExpenseID   uuid.UUID
	ContentType string
	Size        int64
}

func (i ReceiptInfo) metadata() map[string]string {
	return map[string]string{
		metaOwnerID:   i.OwnerID.String(),
		metaExpenseID: i.ExpenseID.String(),
	}
}

// receiptInfo rebuilds a ReceiptInfo from backend metadata. Backends
// canonicalise keys differently (MinIO answers "Owner-Id", sometimes with
// the X-Amz-Meta- prefix), so keys are matched case-insensitively.
func receiptInfo(meta map[string]string, contentType string, size int64) ReceiptInfo {
	info := ReceiptInfo{ContentType: contentType, Size: size}
	for key, value := range meta {
		switch strings.TrimPrefix(strings.ToLower(key), "x-amz-meta-") {
		case metaOwnerID:
			info.OwnerID, _ = uuid.Parse(value)
		case metaExpenseID:
			info.ExpenseID, _ = uuid.Parse(value)
		}
	}
	return info
}

// ObjectStorage is implemented by each receipt backend.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	PutReceipt(ctx context.Context, key string, r io.Reader, info ReceiptInfo) error
	OpenReceipt(ctx context.Context, key string) (io.ReadCloser, ReceiptInfo, error)
	DeleteReceipt(ctx context.Context, key string) error
	Bucket() string
	Close() error
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// Open connects the backend selected by cfg and makes sure its bucket
// exists. It returns nil when receipt storage is disabled.
func Open(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var backend ObjectStorage
	switch cfg.Backend {
	case "", config.BackendNone:
		return nil, nil
	case config.BackendMinio:
		client, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		backend = client
	case config.BackendGCS:
		client, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("connect gcs: %w", err)
		}
		backend = client
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}

	s := NewStorage(backend)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %q: %w", s.Bucket(), err)
	}
	return s, nil
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put stores a receipt under key, replacing any previous object.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, info ReceiptInfo) error {
	if info.Size <= 0 {
		return errors.New("receipt size must be positive")
	}
	return s.backend.PutReceipt(ctx, key, r, info)
}

// Get opens a stored receipt. A missing object yields ErrNotFound.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, ReceiptInfo, error) {
	return s.backend.OpenReceipt(ctx, key)
}

// Delete removes a receipt. Deleting a missing object is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.DeleteReceipt(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// Close releases the backend client.
func (s *Storage) Close() error {
	return s.backend.Close()
}
