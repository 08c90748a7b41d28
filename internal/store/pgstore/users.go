package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/tyemirov/tgcalendar/internal/store"
)

const userColumns = `id, chat_id, nick, email, provider_id, created_at, updated_at`

// UserRepository implements store.UsersRepository on PostgreSQL.
type UserRepository struct {
	db       querier
	reporter store.ErrorReporter
}

var _ store.UsersRepository = (*UserRepository)(nil)

// CreateSchema creates the users table when missing.
func (repository *UserRepository) CreateSchema(ctx context.Context) error {
	if _, err := repository.db.Exec(ctx, createUsersTable); err != nil {
		return fmt.Errorf("users.create_schema.%s: %w", driverLabel, err)
	}
	return nil
}

// AddUser inserts a user or returns the one already holding the chat id.
func (repository *UserRepository) AddUser(ctx context.Context, user store.NewUser) (*store.User, error) {
	if user.ChatID == 0 {
		return nil, fmt.Errorf("users.add.%s: %w", driverLabel, store.ErrInvalidChatID)
	}
	row := repository.db.QueryRow(ctx, `
INSERT INTO users (chat_id, nick, email, provider_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (chat_id) DO NOTHING
RETURNING `+userColumns,
		user.ChatID, nullable(user.Nick), nullable(user.Email), nullable(user.ProviderID))
	inserted, insertErr := scanUser(row)
	if insertErr == nil {
		return inserted, nil
	}
	if !errors.Is(insertErr, store.ErrNotFound) {
		return nil, fmt.Errorf("users.add.%s: %w", driverLabel, translate(insertErr))
	}
	existing, findErr := repository.findOne(ctx, "chat_id = $1", user.ChatID)
	if findErr != nil {
		return nil, fmt.Errorf("users.add.%s: %w", driverLabel, findErr)
	}
	return existing, nil
}

// GetUserByChatID looks a user up by chat id.
func (repository *UserRepository) GetUserByChatID(ctx context.Context, chatID int64) (*store.User, bool) {
	user, err := repository.findOne(ctx, "chat_id = $1", chatID)
	return store.Lookup(repository.reporter, "users.get_by_chat_id."+driverLabel, user, err)
}

// GetUserByID looks a user up by internal id.
func (repository *UserRepository) GetUserByID(ctx context.Context, userID int64) (*store.User, bool) {
	user, err := repository.findOne(ctx, "id = $1", userID)
	return store.Lookup(repository.reporter, "users.get_by_id."+driverLabel, user, err)
}

// GetUserByProviderID looks a user up by identity provider id.
func (repository *UserRepository) GetUserByProviderID(ctx context.Context, providerID string) (*store.User, bool) {
	if providerID == "" {
		return nil, false
	}
	user, err := repository.findOne(ctx, "provider_id = $1", providerID)
	return store.Lookup(repository.reporter, "users.get_by_provider_id."+driverLabel, user, err)
}

// ListUsers returns every user, newest first.
func (repository *UserRepository) ListUsers(ctx context.Context) []store.User {
	users, err := repository.listAll(ctx)
	return store.List(repository.reporter, "users.list."+driverLabel, users, err)
}

// UserExists reports whether the chat id is registered.
func (repository *UserRepository) UserExists(ctx context.Context, chatID int64) bool {
	found, err := repository.exists(ctx, "chat_id = $1", chatID)
	return store.Exists(repository.reporter, "users.exists."+driverLabel, found, err)
}

// ProviderIDExists reports whether any user holds the provider id.
func (repository *UserRepository) ProviderIDExists(ctx context.Context, providerID string) bool {
	if providerID == "" {
		return false
	}
	found, err := repository.exists(ctx, "provider_id = $1", providerID)
	return store.Exists(repository.reporter, "users.provider_id_exists."+driverLabel, found, err)
}

// UpdateUser applies a partial update. Missing users yield store.ErrNotFound.
func (repository *UserRepository) UpdateUser(ctx context.Context, chatID int64, update store.UserUpdate) error {
	if update.IsEmpty() {
		found, err := repository.exists(ctx, "chat_id = $1", chatID)
		if err != nil {
			return fmt.Errorf("users.update.%s: %w", driverLabel, err)
		}
		if !found {
			return fmt.Errorf("users.update.%s: %w", driverLabel, store.ErrNotFound)
		}
		return nil
	}
	assignments := []string{"updated_at = now()"}
	arguments := []any{chatID}
	assign := func(column string, value *string) {
		if value == nil {
			return
		}
		arguments = append(arguments, nullable(value))
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, len(arguments)))
	}
	assign("nick", update.Nick)
	assign("email", update.Email)
	assign("provider_id", update.ProviderID)

	tag, err := repository.db.Exec(ctx,
		"UPDATE users SET "+strings.Join(assignments, ", ")+" WHERE chat_id = $1",
		arguments...)
	if err != nil {
		return fmt.Errorf("users.update.%s: %w", driverLabel, translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("users.update.%s: %w", driverLabel, store.ErrNotFound)
	}
	return nil
}

// DeleteUser removes the user; ON DELETE CASCADE removes its tokens.
func (repository *UserRepository) DeleteUser(ctx context.Context, chatID int64) error {
	if _, err := repository.db.Exec(ctx, `DELETE FROM users WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("users.delete.%s: %w", driverLabel, err)
	}
	return nil
}

// DropSchema drops the tokens and users tables.
func (repository *UserRepository) DropSchema(ctx context.Context) error {
	for _, statement := range []string{dropTokensTable, dropUsersTable} {
		if _, err := repository.db.Exec(ctx, statement); err != nil {
			return fmt.Errorf("users.drop_schema.%s: %w", driverLabel, err)
		}
	}
	return nil
}

func (repository *UserRepository) findOne(ctx context.Context, condition string, argument any) (*store.User, error) {
	row := repository.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+condition, argument)
	return scanUser(row)
}

func (repository *UserRepository) listAll(ctx context.Context) ([]store.User, error) {
	rows, err := repository.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.User, error) {
		user, scanErr := scanUser(row)
		if scanErr != nil {
			return store.User{}, scanErr
		}
		return *user, nil
	})
}

func (repository *UserRepository) exists(ctx context.Context, condition string, argument any) (bool, error) {
	var found bool
	err := repository.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE `+condition+`)`, argument).Scan(&found)
	return found, err
}

func scanUser(row pgx.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(&user.ID, &user.ChatID, &user.Nick, &user.Email, &user.ProviderID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}
