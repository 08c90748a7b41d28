package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"github.com/tyemirov/tgcalendar/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const newestFirst = "created_at DESC, id DESC"

// UserRepository implements store.UsersRepository on SQLite.
type UserRepository struct {
	db       *gorm.DB
	reporter store.ErrorReporter
}

var _ store.UsersRepository = (*UserRepository)(nil)

// CreateSchema creates the users table when missing.
func (repository *UserRepository) CreateSchema(ctx context.Context) error {
	if err := repository.db.WithContext(ctx).Migrator().AutoMigrate(&userRecord{}); err != nil {
		return fmt.Errorf("users.create_schema.%s: %w", driverLabel, err)
	}
	return nil
}

// AddUser inserts a user or returns the one already holding the chat id.
func (repository *UserRepository) AddUser(ctx context.Context, user store.NewUser) (*store.User, error) {
	if user.ChatID == 0 {
		return nil, fmt.Errorf("users.add.%s: %w", driverLabel, store.ErrInvalidChatID)
	}
	record := userRecord{
		ChatID:     user.ChatID,
		Nick:       optionalPointer(user.Nick),
		Email:      optionalPointer(user.Email),
		ProviderID: optionalPointer(user.ProviderID),
	}
	insertErr := repository.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "chat_id"}}, DoNothing: true}).
		Create(&record).Error
	if insertErr != nil {
		return nil, fmt.Errorf("users.add.%s: %w", driverLabel, translate(insertErr))
	}
	stored, findErr := repository.findByChatID(ctx, user.ChatID)
	if findErr != nil {
		return nil, fmt.Errorf("users.add.%s: %w", driverLabel, findErr)
	}
	return stored, nil
}

// GetUserByChatID looks a user up by chat id.
func (repository *UserRepository) GetUserByChatID(ctx context.Context, chatID int64) (*store.User, bool) {
	user, err := repository.findByChatID(ctx, chatID)
	return store.Lookup(repository.reporter, "users.get_by_chat_id."+driverLabel, user, err)
}

// GetUserByID looks a user up by internal id.
func (repository *UserRepository) GetUserByID(ctx context.Context, userID int64) (*store.User, bool) {
	user, err := repository.findOne(ctx, "id = ?", userID)
	return store.Lookup(repository.reporter, "users.get_by_id."+driverLabel, user, err)
}

// GetUserByProviderID looks a user up by identity provider id.
func (repository *UserRepository) GetUserByProviderID(ctx context.Context, providerID string) (*store.User, bool) {
	if providerID == "" {
		return nil, false
	}
	user, err := repository.findOne(ctx, "provider_id = ?", providerID)
	return store.Lookup(repository.reporter, "users.get_by_provider_id."+driverLabel, user, err)
}

// ListUsers returns every user, newest first.
func (repository *UserRepository) ListUsers(ctx context.Context) []store.User {
	var records []userRecord
	err := repository.db.WithContext(ctx).Order(newestFirst).Find(&records).Error
	users := make([]store.User, 0, len(records))
	for _, record := range records {
		users = append(users, *toUserDomain(record))
	}
	return store.List(repository.reporter, "users.list."+driverLabel, users, err)
}

// UserExists reports whether the chat id is registered.
func (repository *UserRepository) UserExists(ctx context.Context, chatID int64) bool {
	found, err := repository.exists(ctx, "chat_id = ?", chatID)
	return store.Exists(repository.reporter, "users.exists."+driverLabel, found, err)
}

// ProviderIDExists reports whether any user holds the provider id.
func (repository *UserRepository) ProviderIDExists(ctx context.Context, providerID string) bool {
	if providerID == "" {
		return false
	}
	found, err := repository.exists(ctx, "provider_id = ?", providerID)
	return store.Exists(repository.reporter, "users.provider_id_exists."+driverLabel, found, err)
}

// UpdateUser applies a partial update. Missing users yield store.ErrNotFound.
func (repository *UserRepository) UpdateUser(ctx context.Context, chatID int64, update store.UserUpdate) error {
	if _, findErr := repository.findByChatID(ctx, chatID); findErr != nil {
		return fmt.Errorf("users.update.%s: %w", driverLabel, findErr)
	}
	if update.IsEmpty() {
		return nil
	}
	changes := map[string]any{"updated_at": time.Now().UTC()}
	if update.Nick != nil {
		changes["nick"] = optionalValue(update.Nick)
	}
	if update.Email != nil {
		changes["email"] = optionalValue(update.Email)
	}
	if update.ProviderID != nil {
		changes["provider_id"] = optionalValue(update.ProviderID)
	}
	err := repository.db.WithContext(ctx).Model(&userRecord{}).Where("chat_id = ?", chatID).Updates(changes).Error
	if err != nil {
		return fmt.Errorf("users.update.%s: %w", driverLabel, translate(err))
	}
	return nil
}

// DeleteUser removes the user and, through the foreign key, its tokens.
func (repository *UserRepository) DeleteUser(ctx context.Context, chatID int64) error {
	if err := repository.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&userRecord{}).Error; err != nil {
		return fmt.Errorf("users.delete.%s: %w", driverLabel, err)
	}
	return nil
}

// DropSchema drops the tokens and users tables.
func (repository *UserRepository) DropSchema(ctx context.Context) error {
	migrator := repository.db.WithContext(ctx).Migrator()
	if err := migrator.DropTable(&tokenRecord{}); err != nil {
		return fmt.Errorf("users.drop_schema.%s: %w", driverLabel, err)
	}
	if err := migrator.DropTable(&userRecord{}); err != nil {
		return fmt.Errorf("users.drop_schema.%s: %w", driverLabel, err)
	}
	return nil
}

func (repository *UserRepository) findByChatID(ctx context.Context, chatID int64) (*store.User, error) {
	return repository.findOne(ctx, "chat_id = ?", chatID)
}

func (repository *UserRepository) findOne(ctx context.Context, condition string, argument any) (*store.User, error) {
	var record userRecord
	err := repository.db.WithContext(ctx).Where(condition, argument).Take(&record).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return toUserDomain(record), nil
}

func (repository *UserRepository) exists(ctx context.Context, condition string, argument any) (bool, error) {
	var count int64
	err := repository.db.WithContext(ctx).Model(&userRecord{}).Where(condition, argument).Count(&count).Error
	return count > 0, err
}
