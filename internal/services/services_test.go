package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/expense-tracker/apiserver/internal/auth"
	"github.com/expense-tracker/apiserver/internal/db/dbtest"
	"github.com/expense-tracker/apiserver/internal/storage"
	"github.com/expense-tracker/apiserver/internal/store"
	"github.com/expense-tracker/apiserver/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	channel string
	attrs   map[string]string
	event   types.ExpenseEvent
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	var event types.ExpenseEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", err
	}
	p.events = append(p.events, recordedEvent{channel: channel, attrs: attrs, event: event})
	return "msg-id", nil
}

func (p *fakePublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.event.Type)
	}
	return out
}

type memoryReceipts struct {
	mu      sync.Mutex
	objects map[string][]byte
	infos   map[string]storage.ReceiptInfo
}

func newMemoryReceipts() *memoryReceipts {
	return &memoryReceipts{objects: map[string][]byte{}, infos: map[string]storage.ReceiptInfo{}}
}

func (m *memoryReceipts) Put(_ context.Context, key string, r io.Reader, info storage.ReceiptInfo) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.infos[key] = info
	return nil
}

func (m *memoryReceipts) Get(_ context.Context, key string) (io.ReadCloser, storage.ReceiptInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ReceiptInfo{}, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), m.infos[key], nil
}

func (m *memoryReceipts) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.infos, key)
	return nil
}

type fixture struct {
	users     *UserService
	expenses  *ExpenseService
	tokens    *auth.TokenIssuer
	publisher *fakePublisher
	receipts  *memoryReceipts
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)

	tokens, err := auth.NewTokenIssuer("test-secret", "HS256", time.Minute)
	require.NoError(t, err)

	publisher := &fakePublisher{}
	receipts := newMemoryReceipts()
	return fixture{
		users: NewUserService(store.NewUserRepository(conn), tokens),
		expenses: NewExpenseService(store.NewExpenseRepository(conn)).
			WithEvents(publisher, "expense-events").
			WithReceipts(receipts),
		tokens:    tokens,
		publisher: publisher,
		receipts:  receipts,
	}
}

func (f fixture) register(t *testing.T, username string) types.User {
	t.Helper()
	user, err := f.users.Register(context.Background(), username, "password123")
	require.NoError(t, err)
	return user
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.users.Register(ctx, "  alice ", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "password123", user.PasswordHash)

	_, err = f.users.Register(ctx, "alice", "another-password")
	assert.ErrorIs(t, err, ErrConflict)

	// The original credentials still work.
	_, err = f.users.Login(ctx, "alice", "password123")
	assert.NoError(t, err)
	_, err = f.users.Login(ctx, "alice", "another-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Register(ctx, "bob", "short")
	assert.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)

	_, err = f.users.Register(ctx, "   ", "password123")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.users.Register(ctx, "bob", strings.Repeat("p", 80))
	assert.ErrorIs(t, err, ErrValidation)

	// Exactly eight multi-byte characters is long enough.
	_, err = f.users.Register(ctx, "bob", "ääääääää")
	assert.NoError(t, err)
}

func TestLoginAndAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	_, err := f.users.Login(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := f.users.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	user, err := f.users.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)

	_, err = f.users.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateUnknownSubject(t *testing.T) {
	f := newFixture(t)

	token, err := f.tokens.Issue("ghost")
	require.NoError(t, err)

	_, err = f.users.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestInactiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice")

	token, err := f.users.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	require.NoError(t, f.users.SetActive(ctx, "alice", false))

	_, err = f.users.Login(ctx, "alice", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.users.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.ErrorIs(t, f.users.SetActive(ctx, "nobody", true), ErrNotFound)
}

func TestExpenseCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	created, err := f.expenses.Create(ctx, alice, "coffee", 3.5)
	require.NoError(t, err)

	list, err := f.expenses.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
	assert.Equal(t, "coffee", list[0].Description)
	assert.Equal(t, 3.5, list[0].Amount)

	updated, err := f.expenses.Update(ctx, alice, created.ID, "espresso", 0)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, alice.ID, updated.UserID)
	assert.Equal(t, "espresso", updated.Description)
	assert.Equal(t, 0.0, updated.Amount)

	require.NoError(t, f.expenses.Delete(ctx, alice, created.ID))
	assert.ErrorIs(t, f.expenses.Delete(ctx, alice, created.ID), ErrNotFound)

	list, err = f.expenses.List(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Equal(t, []string{
		types.EventExpenseCreated,
		types.EventExpenseUpdated,
		types.EventExpenseDeleted,
	}, f.publisher.eventTypes())
	assert.Equal(t, "expense-events", f.publisher.events[0].channel)
	assert.Equal(t, types.EventExpenseCreated, f.publisher.events[0].attrs["type"])
	assert.Equal(t, alice.ID, f.publisher.events[0].event.UserID)
}

func TestExpenseOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")

	expense, err := f.expenses.Create(ctx, alice, "groceries", 42)
	require.NoError(t, err)

	list, err := f.expenses.List(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.expenses.Update(ctx, bob, expense.ID, "hijacked", 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.expenses.Delete(ctx, bob, expense.ID), ErrNotFound)
	_, err = f.expenses.AttachReceipt(ctx, bob, expense.ID, []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = f.expenses.OpenReceipt(ctx, bob, expense.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = f.expenses.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "groceries", list[0].Description)

	// Only alice's create was published; the failed attempts were not.
	assert.Equal(t, []string{types.EventExpenseCreated}, f.publisher.eventTypes())
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	f.publisher.err = errors.New("broker down")

	_, err := f.expenses.Create(ctx, alice, "taxi", 18)
	require.NoError(t, err)

	list, err := f.expenses.List(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReceipts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	expense, err := f.expenses.Create(ctx, alice, "dinner", 55)
	require.NoError(t, err)

	_, _, err = f.expenses.OpenReceipt(ctx, alice, expense.ID)
	assert.ErrorIs(t, err, ErrNotFound, "no receipt attached yet")

	_, err = f.expenses.AttachReceipt(ctx, alice, expense.ID, nil, "image/png")
	assert.ErrorIs(t, err, ErrValidation)

	updated, err := f.expenses.AttachReceipt(ctx, alice, expense.ID, []byte("receipt-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, receiptKey(alice.ID, expense.ID), updated.ReceiptKey)

	reader, info, err := f.expenses.OpenReceipt(ctx, alice, expense.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, "receipt-bytes", string(data))
	assert.Equal(t, storage.ReceiptInfo{
		OwnerID:     alice.ID,
		ExpenseID:   expense.ID,
		ContentType: "image/png",
		Size:        int64(len("receipt-bytes")),
	}, info)

	require.NoError(t, f.expenses.Delete(ctx, alice, expense.ID))
	assert.Empty(t, f.receipts.objects, "receipt object removed with its expense")
}

func TestReceiptObjectMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	expense, err := f.expenses.Create(ctx, alice, "dinner", 55)
	require.NoError(t, err)
	_, err = f.expenses.AttachReceipt(ctx, alice, expense.ID, []byte("receipt-bytes"), "image/png")
	require.NoError(t, err)

	require.NoError(t, f.receipts.Delete(ctx, receiptKey(alice.ID, expense.ID)))

	_, _, err = f.expenses.OpenReceipt(ctx, alice, expense.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReceiptOwnerMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	expense, err := f.expenses.Create(ctx, alice, "dinner", 55)
	require.NoError(t, err)
	_, err = f.expenses.AttachReceipt(ctx, alice, expense.ID, []byte("receipt-bytes"), "image/png")
	require.NoError(t, err)

	key := receiptKey(alice.ID, expense.ID)
	f.receipts.mu.Lock()
	info := f.receipts.infos[key]
	info.OwnerID = uuid.New()
	f.receipts.infos[key] = info
	f.receipts.mu.Unlock()

	_, _, err = f.expenses.OpenReceipt(ctx, alice, expense.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReceiptStorageFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")

	expense, err := f.expenses.Create(ctx, alice, "dinner", 55)
	require.NoError(t, err)
	_, err = f.expenses.AttachReceipt(ctx, alice, expense.ID, []byte("receipt-bytes"), "image/png")
	require.NoError(t, err)

	f.expenses.WithReceipts(failingReceipts{err: errors.New("connection refused")})
	_, _, err = f.expenses.OpenReceipt(ctx, alice, expense.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

type failingReceipts struct {
	err error
}

func (f failingReceipts) Put(context.Context, string, io.Reader, storage.ReceiptInfo) error {
	return f.err
}

func (f failingReceipts) Get(context.Context, string) (io.ReadCloser, storage.ReceiptInfo, error) {
	return nil, storage.ReceiptInfo{}, f.err
}

func (f failingReceipts) Delete(context.Context, string) error {
	return f.err
}

func TestReceiptsDisabled(t *testing.T) {
	conn := dbtest.Open(t)
	users := NewUserService(store.NewUserRepository(conn), nil)
	expenses := NewExpenseService(store.NewExpenseRepository(conn))
	ctx := context.Background()

	alice, err := users.Register(ctx, "alice", "password123")
	require.NoError(t, err)
	expense, err := expenses.Create(ctx, alice, "book", 20)
	require.NoError(t, err)

	_, err = expenses.AttachReceipt(ctx, alice, expense.ID, []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrReceiptsDisabled)
	_, _, err = expenses.OpenReceipt(ctx, alice, expense.ID)
	assert.ErrorIs(t, err, ErrReceiptsDisabled)

	// Without a publisher writes still succeed.
	require.NoError(t, expenses.Delete(ctx, alice, expense.ID))
}
