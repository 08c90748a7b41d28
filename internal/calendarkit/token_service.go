package calendarkit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tyemirov/tgcalendar/internal/store"
	"golang.org/x/oauth2"
)

// TokenService applies expiry normalization around the token repository.
type TokenService struct {
	tokens store.TokensRepository
}

// NewTokenService wraps a token repository.
func NewTokenService(tokens store.TokensRepository) *TokenService {
	return &TokenService{tokens: tokens}
}

// SaveToken upserts an OAuth token granted with scopes.
func (service *TokenService) SaveToken(ctx context.Context, userID int64, token *oauth2.Token, scopes []string) error {
	if token == nil {
		return fmt.Errorf("calendar.tokens.save: %w", ErrValidation)
	}
	input := store.TokenInput{
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: store.NullableString(token.RefreshToken),
		TokenType:    token.Type(),
		Expiry:       NormalizeForStorage(expiryPointer(token.Expiry)),
	}
	if len(scopes) > 0 {
		encoded, err := json.Marshal(scopes)
		if err != nil {
			return fmt.Errorf("calendar.tokens.save.scopes: %w", err)
		}
		serialized := string(encoded)
		input.Scopes = &serialized
	}
	return service.tokens.SaveToken(ctx, input)
}

// GetToken returns the user's token with a UTC expiry.
func (service *TokenService) GetToken(ctx context.Context, userID int64) (*store.Token, bool) {
	token, found := service.tokens.GetToken(ctx, userID)
	return fromStorage(token), found
}

// GetTokenByChatID returns the token of the user owning chatID with a UTC expiry.
func (service *TokenService) GetTokenByChatID(ctx context.Context, chatID int64) (*store.Token, bool) {
	token, found := service.tokens.GetTokenByChatID(ctx, chatID)
	return fromStorage(token), found
}

// UpdateToken applies a partial update, normalizing the expiry.
func (service *TokenService) UpdateToken(ctx context.Context, userID int64, update store.TokenUpdate) error {
	update.Expiry = NormalizeForStorage(update.Expiry)
	return service.tokens.UpdateToken(ctx, userID, update)
}

// DeleteToken removes the user's token.
func (service *TokenService) DeleteToken(ctx context.Context, userID int64) error {
	return service.tokens.DeleteToken(ctx, userID)
}

// TokenExists reports whether the user holds a token.
func (service *TokenService) TokenExists(ctx context.Context, userID int64) bool {
	return service.tokens.TokenExists(ctx, userID)
}

func fromStorage(token *store.Token) *store.Token {
	if token == nil {
		return nil
	}
	normalized := *token
	normalized.Expiry = NormalizeFromStorage(token.Expiry)
	return &normalized
}

func expiryPointer(expiry time.Time) *time.Time {
	if expiry.IsZero() {
		return nil
	}
	return &expiry
}

func decodeScopes(serialized *string, fallback []string) []string {
	if serialized == nil || *serialized == "" {
		return fallback
	}
	var scopes []string
	if err := json.Unmarshal([]byte(*serialized), &scopes); err != nil || len(scopes) == 0 {
		return fallback
	}
	return scopes
}
