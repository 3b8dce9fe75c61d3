package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/expense-tracker/apiserver/internal/db/dbtest"
	"github.com/expense-tracker/apiserver/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StoreTestSuite runs repository operations against a migrated SQLite file.
type StoreTestSuite struct {
	suite.Suite
	db       *sql.DB
	users    *UserRepository
	expenses *ExpenseRepository
	ctx      context.Context
}

func (s *StoreTestSuite) SetupTest() {
	s.db = dbtest.Open(s.T())
	s.users = NewUserRepository(s.db)
	s.expenses = NewExpenseRepository(s.db)
	s.ctx = context.Background()
}

func (s *StoreTestSuite) createUser(username string) types.User {
	user, err := s.users.Create(s.ctx, types.User{
		Username:     username,
		PasswordHash: "hash-" + username,
		IsActive:     true,
	})
	s.Require().NoError(err)
	return user
}

func (s *StoreTestSuite) TestCreateAndGetUser() {
	created := s.createUser("alice")
	s.NotEqual(uuid.Nil, created.ID)

	fetched, err := s.users.GetByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(created.ID, fetched.ID)
	s.Equal("hash-alice", fetched.PasswordHash)
	s.True(fetched.IsActive)
}

func (s *StoreTestSuite) TestCreateUserDuplicateUsername() {
	s.createUser("alice")

	_, err := s.users.Create(s.ctx, types.User{Username: "alice", PasswordHash: "other", IsActive: true})
	s.ErrorIs(err, ErrConflict)

	fetched, err := s.users.GetByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("hash-alice", fetched.PasswordHash, "first user's hash must be untouched")
}

func (s *StoreTestSuite) TestGetUnknownUser() {
	_, err := s.users.GetByUsername(s.ctx, "nobody")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreTestSuite) TestSetActive() {
	s.createUser("alice")

	s.Require().NoError(s.users.SetActive(s.ctx, "alice", false))
	fetched, err := s.users.GetByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.False(fetched.IsActive)

	s.ErrorIs(s.users.SetActive(s.ctx, "nobody", false), ErrNotFound)
}

func (s *StoreTestSuite) TestExpenseLifecycle() {
	owner := s.createUser("alice")

	created, err := s.expenses.Create(s.ctx, types.Expense{Description: "coffee", Amount: 3.5, UserID: owner.ID})
	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, created.ID)

	list, err := s.expenses.ListByOwner(s.ctx, owner.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(created.ID, list[0].ID)
	s.Equal("coffee", list[0].Description)
	s.Equal(3.5, list[0].Amount)

	updated, err := s.expenses.UpdateOwned(s.ctx, types.Expense{ID: created.ID, UserID: owner.ID, Description: "tea", Amount: -2})
	s.Require().NoError(err)
	s.Equal(created.ID, updated.ID)
	s.Equal(owner.ID, updated.UserID)
	s.Equal("tea", updated.Description)
	s.Equal(-2.0, updated.Amount)

	deleted, err := s.expenses.DeleteOwned(s.ctx, created.ID, owner.ID)
	s.Require().NoError(err)
	s.Equal("tea", deleted.Description)

	_, err = s.expenses.DeleteOwned(s.ctx, created.ID, owner.ID)
	s.ErrorIs(err, ErrNotFound)

	list, err = s.expenses.ListByOwner(s.ctx, owner.ID)
	s.Require().NoError(err)
	s.Empty(list)
	s.NotNil(list)
}

func (s *StoreTestSuite) TestOwnershipIsolation() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")

	expense, err := s.expenses.Create(s.ctx, types.Expense{Description: "rent", Amount: 900, UserID: alice.ID})
	s.Require().NoError(err)

	list, err := s.expenses.ListByOwner(s.ctx, bob.ID)
	s.Require().NoError(err)
	s.Empty(list)

	_, err = s.expenses.GetOwned(s.ctx, expense.ID, bob.ID)
	s.ErrorIs(err, ErrNotFound)

	_, err = s.expenses.UpdateOwned(s.ctx, types.Expense{ID: expense.ID, UserID: bob.ID, Description: "mine", Amount: 1})
	s.ErrorIs(err, ErrNotFound)

	_, err = s.expenses.SetReceipt(s.ctx, expense.ID, bob.ID, "receipts/x")
	s.ErrorIs(err, ErrNotFound)

	_, err = s.expenses.DeleteOwned(s.ctx, expense.ID, bob.ID)
	s.ErrorIs(err, ErrNotFound)

	stillThere, err := s.expenses.GetOwned(s.ctx, expense.ID, alice.ID)
	s.Require().NoError(err)
	s.Equal("rent", stillThere.Description)
	s.Equal(900.0, stillThere.Amount)
}

func (s *StoreTestSuite) TestListOrderedByCreation() {
	owner := s.createUser("alice")
	for _, description := range []string{"first", "second", "third"} {
		_, err := s.expenses.Create(s.ctx, types.Expense{Description: description, Amount: 1, UserID: owner.ID})
		s.Require().NoError(err)
	}

	list, err := s.expenses.ListByOwner(s.ctx, owner.ID)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal("first", list[0].Description)
	s.Equal("third", list[2].Description)
}

func (s *StoreTestSuite) TestSetReceipt() {
	owner := s.createUser("alice")
	expense, err := s.expenses.Create(s.ctx, types.Expense{Description: "lunch", Amount: 12, UserID: owner.ID})
	s.Require().NoError(err)

	updated, err := s.expenses.SetReceipt(s.ctx, expense.ID, owner.ID, "receipts/key")
	s.Require().NoError(err)
	s.Equal("receipts/key", updated.ReceiptKey)
	s.Equal("lunch", updated.Description)
}

func (s *StoreTestSuite) TestScopedConnection() {
	owner := s.createUser("alice")

	ctx, release, err := Acquire(s.ctx, s.db)
	s.Require().NoError(err)
	defer release()

	_, err = s.expenses.Create(ctx, types.Expense{Description: "scoped", Amount: 1, UserID: owner.ID})
	s.Require().NoError(err)

	list, err := s.expenses.ListByOwner(ctx, owner.ID)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func TestAcquireReleasesConnection(t *testing.T) {
	db := dbtest.Open(t)
	db.SetMaxOpenConns(1)

	for i := 0; i < 3; i++ {
		ctx, release, err := Acquire(context.Background(), db)
		require.NoError(t, err)
		_, err = NewUserRepository(db).GetByUsername(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		release()
	}

	assert.Equal(t, 0, db.Stats().InUse)
}
