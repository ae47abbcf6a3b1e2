// Package data provides the MongoDB implementations of the account, profile and
// message stores.
package data

import (
	"context" // Used for cancellation and timeouts
	"errors"  // Error handling
	"fmt"
	"time" // Timestamps

	"github.com/PaulBabatuyi/nearchat/internal/auth"
	"github.com/PaulBabatuyi/nearchat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"  // MongoDB document queries
	"go.mongodb.org/mongo-driver/v2/mongo" // MongoDB driver
)

// UsersStore performs user DB operations and implements auth.AccountStore.
type UsersStore struct {
	// coll is reference to "users" collection in MongoDB
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateAccount inserts a new user document with an already hashed password.
func (u *UsersStore) CreateAccount(ctx context.Context, email, hashedPassword string) (auth.Account, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	user := &User{
		Email:     normalize.Email(email),
		Password:  hashedPassword, // Already hashed by auth.HashPassword()
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// The unique email index rejects a second registration
		if mongo.IsDuplicateKeyError(err) {
			return auth.Account{}, auth.ErrUserExists
		}
		return auth.Account{}, fmt.Errorf("data: insert user: %w", err)
	}

	// MongoDB auto-generates the _id field; its hex form is the user id everywhere else
	user.ID = result.InsertedID.(bson.ObjectID)
	return user.account(), nil
}

// AccountByEmail finds a user by email.
func (u *UsersStore) AccountByEmail(ctx context.Context, email string) (auth.Account, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return auth.Account{}, auth.ErrUserNotFound
		}
		return auth.Account{}, fmt.Errorf("data: find user: %w", err)
	}
	return user.account(), nil
}

// AccountByID finds a user by its hex id.
func (u *UsersStore) AccountByID(ctx context.Context, id string) (auth.Account, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return auth.Account{}, auth.ErrUserNotFound
	}

	var user User
	if err := u.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return auth.Account{}, auth.ErrUserNotFound
		}
		return auth.Account{}, fmt.Errorf("data: find user: %w", err)
	}
	return user.account(), nil
}
