package types

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account in the system.
type User struct {
	// ID is the server-assigned unique identifier of the user.
	ID uuid.UUID `json:"id" db:"id"`

	// Username is the unique login name chosen by the user. It is also
	// the subject of the user's access tokens.
	Username string `json:"username" db:"username"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// IsActive reports whether the account may log in and use its tokens.
	IsActive bool `json:"-" db:"is_active"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// UserPublic is the projection of a User returned to clients.
type UserPublic struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// Public returns the client-facing projection of the user.
func (u User) Public() UserPublic {
	return UserPublic{ID: u.ID, Username: u.Username}
}
