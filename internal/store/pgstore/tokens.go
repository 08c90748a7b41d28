package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tyemirov/tgcalendar/internal/store"
)

const tokenColumns = `id, user_id, access_token, refresh_token, token_type, expiry, scopes, created_at, updated_at`

// TokenRepository implements store.TokensRepository on PostgreSQL.
type TokenRepository struct {
	db       querier
	reporter store.ErrorReporter
}

var _ store.TokensRepository = (*TokenRepository)(nil)

// CreateSchema creates the tokens table when missing.
func (repository *TokenRepository) CreateSchema(ctx context.Context) error {
	if _, err := repository.db.Exec(ctx, createTokensTable); err != nil {
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
	_, err := repository.db.Exec(ctx, `
INSERT INTO tokens (user_id, access_token, refresh_token, token_type, expiry, scopes)
VALUES ($1, $2, $3::text, COALESCE($4::text, 'Bearer'), $5::timestamp, $6::text)
ON CONFLICT (user_id) DO UPDATE
SET access_token = EXCLUDED.access_token,
    refresh_token = COALESCE($3::text, tokens.refresh_token),
    token_type = COALESCE($4::text, tokens.token_type),
    expiry = COALESCE($5::timestamp, tokens.expiry),
    scopes = COALESCE($6::text, tokens.scopes),
    updated_at = now()
`, token.UserID, token.AccessToken, nullable(token.RefreshToken), nullable(&token.TokenType), token.Expiry, nullable(token.Scopes))
	if err != nil {
		return fmt.Errorf("tokens.save.%s: %w", driverLabel, translate(err))
	}
	return nil
}

// GetToken returns the token of the user.
func (repository *TokenRepository) GetToken(ctx context.Context, userID int64) (*store.Token, bool) {
	row := repository.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE user_id = $1`, userID)
	token, err := scanToken(row)
	return store.Lookup(repository.reporter, "tokens.get."+driverLabel, token, err)
}

// GetTokenByChatID returns the token of the user owning the chat id.
func (repository *TokenRepository) GetTokenByChatID(ctx context.Context, chatID int64) (*store.Token, bool) {
	row := repository.db.QueryRow(ctx, `
SELECT t.id, t.user_id, t.access_token, t.refresh_token, t.token_type, t.expiry, t.scopes, t.created_at, t.updated_at
FROM tokens t
JOIN users u ON u.id = t.user_id
WHERE u.chat_id = $1
`, chatID)
	token, err := scanToken(row)
	return store.Lookup(repository.reporter, "tokens.get_by_chat_id."+driverLabel, token, err)
}

// UpdateToken applies a partial update to the user's token.
func (repository *TokenRepository) UpdateToken(ctx context.Context, userID int64, update store.TokenUpdate) error {
	if update.AccessToken != nil && *update.AccessToken == "" {
		return fmt.Errorf("tokens.update.%s: %w", driverLabel, store.ErrEmptyAccessToken)
	}
	tag, err := repository.db.Exec(ctx, `
UPDATE tokens
SET access_token = COALESCE($2::text, access_token),
    refresh_token = COALESCE($3::text, refresh_token),
    expiry = COALESCE($4::timestamp, expiry),
    updated_at = now()
WHERE user_id = $1`,
		userID, update.AccessToken, nullable(update.RefreshToken), update.Expiry)
	if err != nil {
		return fmt.Errorf("tokens.update.%s: %w", driverLabel, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tokens.update.%s: %w", driverLabel, store.ErrNotFound)
	}
	return nil
}

// DeleteToken removes the user's token.
func (repository *TokenRepository) DeleteToken(ctx context.Context, userID int64) error {
	if _, err := repository.db.Exec(ctx, `DELETE FROM tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("tokens.delete.%s: %w", driverLabel, err)
	}
	return nil
}

// TokenExists reports whether the user holds a token.
func (repository *TokenRepository) TokenExists(ctx context.Context, userID int64) bool {
	var found bool
	err := repository.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tokens WHERE user_id = $1)`, userID).Scan(&found)
	return store.Exists(repository.reporter, "tokens.exists."+driverLabel, found, err)
}

// DropSchema drops the tokens table.
func (repository *TokenRepository) DropSchema(ctx context.Context) error {
	if _, err := repository.db.Exec(ctx, dropTokensTable); err != nil {
		return fmt.Errorf("tokens.drop_schema.%s: %w", driverLabel, err)
	}
	return nil
}

func scanToken(row pgx.Row) (*store.Token, error) {
	var token store.Token
	err := row.Scan(&token.ID, &token.UserID, &token.AccessToken, &token.RefreshToken, &token.TokenType,
		&token.Expiry, &token.Scopes, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &token, nil
}
