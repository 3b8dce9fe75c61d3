package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/expense-tracker/apiserver/internal/auth"
	"github.com/expense-tracker/apiserver/internal/store"
	"github.com/expense-tracker/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SetActive(ctx context.Context, username string, active bool) error
}

// TokenIssuer issues and resolves access tokens whose subject is a username.
type TokenIssuer interface {
	Issue(subject string) (string, error)
	Resolve(token string) (string, error)
}

// UserService encapsulates registration and authentication use-cases.
type UserService struct {
	repo   UserRepository
	tokens TokenIssuer
}

// NewUserService constructs a UserService. tokens may be nil for callers
// that only register users, such as the CLI.
func NewUserService(repo UserRepository, tokens TokenIssuer) *UserService {
	return &UserService{repo: repo, tokens: tokens}
}

// Register creates an active account with a hashed password.
func (s *UserService) Register(ctx context.Context, username, password string) (types.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return types.User{}, invalid("username", "field required")
	}
	if utf8.RuneCountInString(password) < auth.MinPasswordLength {
		return types.User{}, invalid("password", "should have at least %d characters", auth.MinPasswordLength)
	}

	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return types.User{}, fmt.Errorf("%w: username already registered", ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check username: %w", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return types.User{}, invalid("password", "should have at most 72 bytes")
		}
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:     username,
		PasswordHash: hashed,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, fmt.Errorf("%w: username already registered", ErrConflict)
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and returns a fresh access token. Unknown
// users, wrong passwords and inactive accounts all yield ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			auth.BurnVerify(password)
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	if !auth.VerifyPassword(password, user.PasswordHash) || !user.IsActive {
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// Authenticate resolves an access token to its active user.
func (s *UserService) Authenticate(ctx context.Context, token string) (types.User, error) {
	username, err := s.tokens.Resolve(token)
	if err != nil {
		return types.User{}, ErrUnauthenticated
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUnauthenticated
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return types.User{}, ErrUnauthenticated
	}
	return user, nil
}

// SetActive enables or disables an account.
func (s *UserService) SetActive(ctx context.Context, username string, active bool) error {
	if err := s.repo.SetActive(ctx, strings.TrimSpace(username), active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user %q", ErrNotFound, username)
		}
		return err
	}
	return nil
}
