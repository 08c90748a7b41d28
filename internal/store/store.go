package store

import (
	"context"
	"time"

	"github.com/tyemirov/tgcalendar/internal/store/internal/sealed"
)

// User is a bot principal identified by the chat platform id.
type User struct {
	ID         int64
	ChatID     int64
	Nick       *string
	Email      *string
	ProviderID *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Token is the stored OAuth credential material of a user.
// Expiry is kept as a UTC wall clock; Scopes holds a JSON array.
type Token struct {
	ID           int64
	UserID       int64
	AccessToken  string
	RefreshToken *string
	TokenType    string
	Expiry       *time.Time
	Scopes       *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser describes a user to insert.
type NewUser struct {
	ChatID     int64
	Nick       *string
	Email      *string
	ProviderID *string
}

// UserUpdate carries a partial user update. Nil fields are left untouched,
// a pointer to an empty string clears the column.
type UserUpdate struct {
	Nick       *string
	Email      *string
	ProviderID *string
}

// IsEmpty reports whether the update changes nothing.
func (update UserUpdate) IsEmpty() bool {
	return update.Nick == nil && update.Email == nil && update.ProviderID == nil
}

// TokenInput is the payload of an upsert.
type TokenInput struct {
	UserID       int64
	AccessToken  string
	RefreshToken *string
	TokenType    string
	Expiry       *time.Time
	Scopes       *string
}

// TokenUpdate carries a partial token update; nil fields are left untouched.
type TokenUpdate struct {
	AccessToken  *string
	RefreshToken *string
	Expiry       *time.Time
}

// DefaultTokenType is written when a token input omits its type.
const DefaultTokenType = "Bearer"

// UsersRepository persists users.
type UsersRepository interface {
	CreateSchema(ctx context.Context) error
	AddUser(ctx context.Context, user NewUser) (*User, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*User, bool)
	GetUserByID(ctx context.Context, userID int64) (*User, bool)
	GetUserByProviderID(ctx context.Context, providerID string) (*User, bool)
	ListUsers(ctx context.Context) []User
	UserExists(ctx context.Context, chatID int64) bool
	ProviderIDExists(ctx context.Context, providerID string) bool
	UpdateUser(ctx context.Context, chatID int64, update UserUpdate) error
	DeleteUser(ctx context.Context, chatID int64) error
	// DropSchema removes every table owned by the store, tokens first.
	DropSchema(ctx context.Context) error
}

// TokensRepository persists OAuth tokens. The user_id column is unique, so at
// most one token exists per user.
type TokensRepository interface {
	CreateSchema(ctx context.Context) error
	SaveToken(ctx context.Context, token TokenInput) error
	GetToken(ctx context.Context, userID int64) (*Token, bool)
	GetTokenByChatID(ctx context.Context, chatID int64) (*Token, bool)
	UpdateToken(ctx context.Context, userID int64, update TokenUpdate) error
	DeleteToken(ctx context.Context, userID int64) error
	TokenExists(ctx context.Context, userID int64) bool
	DropSchema(ctx context.Context) error
}

// Repositories bundles the repositories bound to one session.
type Repositories struct {
	Users  UsersRepository
	Tokens TokensRepository
}

// Kind names a storage backend.
type Kind string

const (
	// KindSQLite is the embedded single-file backend.
	KindSQLite Kind = "sqlite"
	// KindPostgres is the relational server backend.
	KindPostgres Kind = "postgres"
)

// ParseKind resolves a configured backend name.
func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindSQLite:
		return KindSQLite, true
	case KindPostgres:
		return KindPostgres, true
	default:
		return "", false
	}
}

// Session is an open storage transaction. Only the backends under
// internal/store can implement it, by embedding sealed.Marker.
type Session interface {
	Kind() Kind
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Seal() sealed.Seal
}

// NullableString maps an empty string to NULL.
func NullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
