package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/expense-tracker/apiserver/internal/storage"
	"github.com/expense-tracker/apiserver/internal/store"
	"github.com/expense-tracker/apiserver/types"
	"github.com/google/uuid"
)

// MaxReceiptBytes bounds the size of an uploaded receipt.
const MaxReceiptBytes = 10 << 20

// ExpenseRepository defines owner-scoped persistence operations for expenses.
type ExpenseRepository interface {
	ListByOwner(ctx context.Context, userID uuid.UUID) ([]types.Expense, error)
	GetOwned(ctx context.Context, id, userID uuid.UUID) (types.Expense, error)
	Create(ctx context.Context, expense types.Expense) (types.Expense, error)
	UpdateOwned(ctx context.Context, expense types.Expense) (types.Expense, error)
	SetReceipt(ctx context.Context, id, userID uuid.UUID, key string) (types.Expense, error)
	DeleteOwned(ctx context.Context, id, userID uuid.UUID) (types.Expense, error)
}

// EventPublisher delivers expense events to a message broker.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// ReceiptStorage keeps receipt files in an object store.
type ReceiptStorage interface {
	Put(ctx context.Context, key string, r io.Reader, info storage.ReceiptInfo) error
	Get(ctx context.Context, key string) (io.ReadCloser, storage.ReceiptInfo, error)
	Delete(ctx context.Context, key string) error
}

// ExpenseService encapsulates expense use-cases. Every operation is scoped
// to the owner passed in by the caller.
type ExpenseService struct {
	repo     ExpenseRepository
	events   EventPublisher
	channel  string
	receipts ReceiptStorage
	now      func() time.Time
}

func NewExpenseService(repo ExpenseRepository) *ExpenseService {
	return &ExpenseService{repo: repo, now: time.Now}
}

// WithEvents publishes lifecycle events for successful writes to channel.
func (s *ExpenseService) WithEvents(publisher EventPublisher, channel string) *ExpenseService {
	s.events = publisher
	s.channel = channel
	return s
}

// WithReceipts enables receipt upload and download.
func (s *ExpenseService) WithReceipts(receipts ReceiptStorage) *ExpenseService {
	s.receipts = receipts
	return s
}

// ReceiptsEnabled reports whether a receipt store is configured.
func (s *ExpenseService) ReceiptsEnabled() bool {
	return s.receipts != nil
}

func (s *ExpenseService) Create(ctx context.Context, owner types.User, description string, amount float64) (types.Expense, error) {
	expense, err := s.repo.Create(ctx, types.Expense{
		Description: description,
		Amount:      amount,
		UserID:      owner.ID,
	})
	if err != nil {
		return types.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	s.publish(ctx, types.EventExpenseCreated, expense)
	return expense, nil
}

func (s *ExpenseService) List(ctx context.Context, owner types.User) ([]types.Expense, error) {
	expenses, err := s.repo.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

func (s *ExpenseService) Update(ctx context.Context, owner types.User, id uuid.UUID, description string, amount float64) (types.Expense, error) {
	expense, err := s.repo.UpdateOwned(ctx, types.Expense{
		ID:          id,
		UserID:      owner.ID,
		Description: description,
		Amount:      amount,
	})
	if err != nil {
		return types.Expense{}, notFoundOr(err, "update expense")
	}
	s.publish(ctx, types.EventExpenseUpdated, expense)
	return expense, nil
}

func (s *ExpenseService) Delete(ctx context.Context, owner types.User, id uuid.UUID) error {
	expense, err := s.repo.DeleteOwned(ctx, id, owner.ID)
	if err != nil {
		return notFoundOr(err, "delete expense")
	}

	if expense.ReceiptKey != "" && s.receipts != nil {
		if err := s.receipts.Delete(ctx, expense.ReceiptKey); err != nil {
			slog.WarnContext(ctx, "failed to remove receipt object",
				"err", err, "expense_id", expense.ID, "key", expense.ReceiptKey)
		}
	}

	s.publish(ctx, types.EventExpenseDeleted, expense)
	return nil
}

// AttachReceipt stores data as the receipt of the owner's expense, replacing
// any previous receipt.
func (s *ExpenseService) AttachReceipt(ctx context.Context, owner types.User, id uuid.UUID, data []byte, contentType string) (types.Expense, error) {
	if s.receipts == nil {
		return types.Expense{}, ErrReceiptsDisabled
	}
	if len(data) == 0 {
		return types.Expense{}, invalid("receipt", "file is empty")
	}
	if len(data) > MaxReceiptBytes {
		return types.Expense{}, invalid("receipt", "file exceeds %d bytes", MaxReceiptBytes)
	}

	if _, err := s.repo.GetOwned(ctx, id, owner.ID); err != nil {
		return types.Expense{}, notFoundOr(err, "load expense")
	}

	key := receiptKey(owner.ID, id)
	info := storage.ReceiptInfo{
		OwnerID:     owner.ID,
		ExpenseID:   id,
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	if err := s.receipts.Put(ctx, key, bytes.NewReader(data), info); err != nil {
		return types.Expense{}, fmt.Errorf("store receipt: %w", err)
	}

	expense, err := s.repo.SetReceipt(ctx, id, owner.ID, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between the lookup and the update.
			_ = s.receipts.Delete(ctx, key)
		}
		return types.Expense{}, notFoundOr(err, "record receipt")
	}
	s.publish(ctx, types.EventExpenseUpdated, expense)
	return expense, nil
}

// OpenReceipt returns a reader over the receipt of the owner's expense
// together with its stored metadata. A receipt whose object has gone
// missing, or whose metadata names another owner, is reported as not found.
func (s *ExpenseService) OpenReceipt(ctx context.Context, owner types.User, id uuid.UUID) (io.ReadCloser, storage.ReceiptInfo, error) {
	if s.receipts == nil {
		return nil, storage.ReceiptInfo{}, ErrReceiptsDisabled
	}

	expense, err := s.repo.GetOwned(ctx, id, owner.ID)
	if err != nil {
		return nil, storage.ReceiptInfo{}, notFoundOr(err, "load expense")
	}
	if expense.ReceiptKey == "" {
		return nil, storage.ReceiptInfo{}, fmt.Errorf("%w: expense has no receipt", ErrNotFound)
	}

	reader, info, err := s.receipts.Get(ctx, expense.ReceiptKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.WarnContext(ctx, "receipt object missing",
				"expense_id", expense.ID, "key", expense.ReceiptKey)
			return nil, storage.ReceiptInfo{}, fmt.Errorf("%w: receipt object missing", ErrNotFound)
		}
		return nil, storage.ReceiptInfo{}, fmt.Errorf("open receipt: %w", err)
	}
	if info.OwnerID != uuid.Nil && info.OwnerID != owner.ID {
		_ = reader.Close()
		return nil, storage.ReceiptInfo{}, fmt.Errorf("%w: receipt owned by another user", ErrNotFound)
	}
	return reader, info, nil
}

// publish is best-effort: the write has already committed, so a broker
// failure is logged and never reported to the client.
func (s *ExpenseService) publish(ctx context.Context, eventType string, expense types.Expense) {
	if s.events == nil {
		return
	}

	data, err := json.Marshal(types.ExpenseEvent{
		Type:        eventType,
		ExpenseID:   expense.ID,
		UserID:      expense.UserID,
		Description: expense.Description,
		Amount:      expense.Amount,
		OccurredAt:  s.now().UTC(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode expense event", "err", err, "expense_id", expense.ID)
		return
	}

	if _, err := s.events.Publish(ctx, s.channel, data, map[string]string{"type": eventType}); err != nil {
		slog.WarnContext(ctx, "failed to publish expense event",
			"err", err, "type", eventType, "expense_id", expense.ID)
	}
}

func receiptKey(userID, expenseID uuid.UUID) string {
	return fmt.Sprintf("receipts/%s/%s", userID, expenseID)
}

func notFoundOr(err error, action string) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", action, err)
}
