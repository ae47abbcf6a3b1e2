// Package auth handles accounts, password hashing and JWT issuing.
package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserExists is returned when registering an email that is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when no account matches.
	ErrUserNotFound = errors.New("user not found")
)

// Account is a login identity. Its id is shared with the user's profile and is the
// user id used throughout messaging.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountStore persists accounts. Emails are normalized by the store.
type AccountStore interface {
	CreateAccount(ctx context.Context, email, passwordHash string) (Account, error)
	AccountByEmail(ctx context.Context, email string) (Account, error)
	AccountByID(ctx context.Context, id string) (Account, error)
}
