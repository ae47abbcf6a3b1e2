package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/nearchat/internal/auth"
	"github.com/PaulBabatuyi/nearchat/internal/normalize"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateAccount inserts an account with an already hashed password.
func (s *Store) CreateAccount(ctx context.Context, email, passwordHash string) (auth.Account, error) {
	now := s.now()
	row := accountRow{
		ID:           uuid.NewString(),
		Email:        normalize.Email(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return auth.Account{}, auth.ErrUserExists
		}
		return auth.Account{}, fmt.Errorf("sqlstore: insert account: %w", err)
	}
	return row.account(), nil
}

// AccountByEmail finds an account by email.
func (s *Store) AccountByEmail(ctx context.Context, email string) (auth.Account, error) {
	return s.findAccount(ctx, "email = ?", normalize.Email(email))
}

// AccountByID finds an account by id.
func (s *Store) AccountByID(ctx context.Context, id string) (auth.Account, error) {
	return s.findAccount(ctx, "id = ?", id)
}

func (s *Store) findAccount(ctx context.Context, query string, arg interface{}) (auth.Account, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).Where(query, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auth.Account{}, auth.ErrUserNotFound
		}
		return auth.Account{}, fmt.Errorf("sqlstore: find account: %w", err)
	}
	return row.account(), nil
}
