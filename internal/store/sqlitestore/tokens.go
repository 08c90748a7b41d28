package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"github.com/tyemirov/tgcalendar/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenRepository implements store.TokensRepository on SQLite.
type TokenRepository struct {
	db       *gorm.DB
	reporter store.ErrorReporter
}

var _ store.TokensRepository = (*TokenRepository)(nil)

// CreateSchema creates the tokens table when missing.
func (repository *TokenRepository) CreateSchema(ctx context.Context) error {
	if err := repository.db.WithContext(ctx).Migrator().AutoMigrate(&tokenRecord{}); err != nil {
		return fmt.Errorf("tokens.create_schema.%s: %w", driverLabel, err)
	}
	return nil
}

// SaveToken inserts the user's token or, on the user_id conflict, overwrites
// it in place. Omitted refresh token, type, expiry and scopes are retained.
func (repository *TokenRepository) SaveToken(ctx context.Context, token store.TokenInput) error {
	if token.AccessToken == "" {
		return fmt.Errorf("tokens.save.%s: %w", driverLabel, store.ErrEmptyAccessToken)
	}
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = store.DefaultTokenType
	}
	record := tokenRecord{
		UserID:       token.UserID,
		AccessToken:  token.AccessToken,
		RefreshToken: optionalPointer(token.RefreshToken),
		TokenType:    tokenType,
		Expiry:       token.Expiry,
		Scopes:       optionalPointer(token.Scopes),
	}
	changes := map[string]any{
		"access_token": token.AccessToken,
		"updated_at":   time.Now().UTC(),
	}
	if record.RefreshToken != nil {
		changes["refresh_token"] = *record.RefreshToken
	}
	if token.TokenType != "" {
		changes["token_type"] = token.TokenType
	}
	if token.Expiry != nil {
		changes["expiry"] = *token.Expiry
	}
	if record.Scopes != nil {
		changes["scopes"] = *record.Scopes
	}
	err := repository.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(changes),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("tokens.save.%s: %w", driverLabel, translate(err))
	}
	return nil
}

// GetToken returns the token of the user.
func (repository *TokenRepository) GetToken(ctx context.Context, userID int64) (*store.Token, bool) {
	token, err := repository.find(ctx, userID)
	return store.Lookup(repository.reporter, "tokens.get."+driverLabel, token, err)
}

// GetTokenByChatID returns the token of the user owning the chat id.
func (repository *TokenRepository) GetTokenByChatID(ctx context.Context, chatID int64) (*store.Token, bool) {
	var record tokenRecord
	err := repository.db.WithContext(ctx).
		Model(&tokenRecord{}).
		Select("tokens.*").
		Joins("JOIN users ON users.id = tokens.user_id").
		Where("users.chat_id = ?", chatID).
		Take(&record).Error
	var token *store.Token
	switch {
	case isRecordNotFound(err):
		err = store.ErrNotFound
	case err == nil:
		token = toTokenDomain(record)
	}
	return store.Lookup(repository.reporter, "tokens.get_by_chat_id."+driverLabel, token, err)
}

// UpdateToken applies a partial update to the user's token.
func (repository *TokenRepository) UpdateToken(ctx context.Context, userID int64, update store.TokenUpdate) error {
	current, findErr := repository.find(ctx, userID)
	if findErr != nil {
		return fmt.Errorf("tokens.update.%s: %w", driverLabel, findErr)
	}
	changes := map[string]any{"updated_at": time.Now().UTC()}
	if update.AccessToken != nil {
		if *update.AccessToken == "" {
			return fmt.Errorf("tokens.update.%s: %w", driverLabel, store.ErrEmptyAccessToken)
		}
		changes["access_token"] = *update.AccessToken
	}
	if update.RefreshToken != nil && *update.RefreshToken != "" {
		changes["refresh_token"] = *update.RefreshToken
	}
	if update.Expiry != nil {
		changes["expiry"] = *update.Expiry
	}
	if err := repository.db.WithContext(ctx).Model(&tokenRecord{}).Where("id = ?", current.ID).Updates(changes).Error; err != nil {
		return fmt.Errorf("tokens.update.%s: %w", driverLabel, err)
	}
	return nil
}

// DeleteToken removes the user's token.
func (repository *TokenRepository) DeleteToken(ctx context.Context, userID int64) error {
	if err := repository.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&tokenRecord{}).Error; err != nil {
		return fmt.Errorf("tokens.delete.%s: %w", driverLabel, err)
	}
	return nil
}

// TokenExists reports whether the user holds a token.
func (repository *TokenRepository) TokenExists(ctx context.Context, userID int64) bool {
	var count int64
	err := repository.db.WithContext(ctx).Model(&tokenRecord{}).Where("user_id = ?", userID).Count(&count).Error
	return store.Exists(repository.reporter, "tokens.exists."+driverLabel, count > 0, err)
}

// DropSchema drops the tokens table.
func (repository *TokenRepository) DropSchema(ctx context.Context) error {
	if err := repository.db.WithContext(ctx).Migrator().DropTable(&tokenRecord{}); err != nil {
		return fmt.Errorf("tokens.drop_schema.%s: %w", driverLabel, err)
	}
	return nil
}

func (repository *TokenRepository) find(ctx context.Context, userID int64) (*store.Token, error) {
	var record tokenRecord
	err := repository.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return toTokenDomain(record), nil
}
