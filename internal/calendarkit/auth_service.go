package calendarkit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tyemirov/tgcalendar/internal/store"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// AuthService runs the OAuth authorization code flow for chat users.
type AuthService struct {
	runtime  *Runtime
	database Transactor
}

// AuthorizationURL registers the chat id if needed, stores a fresh state in
// the user's provider id and returns the consent URL.
func (service *AuthService) AuthorizationURL(ctx context.Context, chatID int64) (string, error) {
	config := service.runtime.config
	state, _, err := MintStateToken(service.runtime.clock, chatID, config.StateIssuer, config.StateSigningKey, config.StateTTL)
	if err != nil {
		return "", err
	}
	err = service.database.Transaction(ctx, func(repositories store.Repositories) error {
		if _, addErr := repositories.Users.AddUser(ctx, store.NewUser{ChatID: chatID}); addErr != nil {
			return addErr
		}
		return repositories.Users.UpdateUser(ctx, chatID, store.UserUpdate{ProviderID: &state})
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	service.runtime.metrics.Increment(MetricAuthURLIssued)
	return service.runtime.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// HandleCallback validates the state of an OAuth redirect and exchanges the
// code for its user. It returns the chat id that was authorized.
func (service *AuthService) HandleCallback(ctx context.Context, code string, state string) (int64, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		service.runtime.metrics.Increment(MetricCallbackRejected)
		return 0, fmt.Errorf("calendar.auth.callback.missing_parameters: %w", ErrInvalidState)
	}
	config := service.runtime.config
	claims, err := ParseStateToken(service.runtime.clock, state, config.StateIssuer, config.StateSigningKey)
	if err != nil {
		service.runtime.metrics.Increment(MetricCallbackRejected)
		return 0, err
	}
	user, err := inTransaction(ctx, service.database, func(repositories store.Repositories) (*store.User, error) {
		user, found := repositories.Users.GetUserByProviderID(ctx, state)
		if !found || user.ChatID != claims.ChatID {
			return nil, fmt.Errorf("calendar.auth.callback.unknown_state: %w", ErrInvalidState)
		}
		return user, nil
	})
	if err != nil {
		service.runtime.metrics.Increment(MetricCallbackRejected)
		return 0, err
	}
	if err := service.ExchangeCode(ctx, user.ChatID, code); err != nil {
		return 0, err
	}
	return user.ChatID, nil
}

// ExchangeCode trades an authorization code for tokens and stores them. The
// token endpoint is called outside any storage transaction.
func (service *AuthService) ExchangeCode(ctx context.Context, chatID int64, code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("calendar.auth.exchange.empty_code: %w", ErrValidation)
	}
	if _, err := service.lookup(ctx, chatID); err != nil {
		return err
	}
	runtime := service.runtime
	token, err := observe(ctx, runtime, CallCodeExchange, func(callCtx context.Context) (*oauth2.Token, error) {
		return runtime.oauthConfig.Exchange(runtime.oauthContext(callCtx), code)
	})
	if err != nil {
		runtime.logger.Warn("authorization code exchange failed",
			zap.String("code", "calendar.auth.exchange_failed"),
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		if errors.Is(err, ErrUpstreamTimeout) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	identity := service.verifyIdentity(ctx, chatID, token)
	err = service.database.Transaction(ctx, func(repositories store.Repositories) error {
		user, found := repositories.Users.GetUserByChatID(ctx, chatID)
		if !found {
			return fmt.Errorf("calendar.auth.exchange: %w", ErrUserNotFound)
		}
		if saveErr := NewTokenService(repositories.Tokens).SaveToken(ctx, user.ID, token, runtime.config.Scopes); saveErr != nil {
			return fmt.Errorf("%w: %w", ErrStorage, saveErr)
		}
		if updateErr := repositories.Users.UpdateUser(ctx, chatID, service.linkIdentity(ctx, repositories.Users, user, identity)); updateErr != nil {
			return fmt.Errorf("%w: %w", ErrStorage, updateErr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	runtime.logger.Info("calendar access granted", zap.Int64("chat_id", chatID))
	return nil
}

// verifiedIdentity is what a valid id token says about the Google account.
type verifiedIdentity struct {
	subject string
	email   string
}

// verifyIdentity validates the id token returned with token. It returns nil
// when no identity can be established.
func (service *AuthService) verifyIdentity(ctx context.Context, chatID int64, token *oauth2.Token) *verifiedIdentity {
	runtime := service.runtime
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" || runtime.identity == nil {
		return nil
	}
	payload, err := runtime.identity.Validate(ctx, rawIDToken, runtime.config.GoogleClientID)
	if err != nil || payload == nil || payload.Subject == "" {
		runtime.logger.Warn("id token rejected",
			zap.String("code", "calendar.auth.id_token_invalid"),
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		return nil
	}
	identity := &verifiedIdentity{subject: payload.Subject}
	identity.email, _ = payload.Claims["email"].(string)
	return identity
}

// linkIdentity replaces the consumed state with the verified Google subject,
// or clears it when the subject is missing or owned by another chat.
func (service *AuthService) linkIdentity(ctx context.Context, users store.UsersRepository, user *store.User, identity *verifiedIdentity) store.UserUpdate {
	cleared := ""
	update := store.UserUpdate{ProviderID: &cleared}
	if identity == nil {
		return update
	}
	if owner, taken := users.GetUserByProviderID(ctx, identity.subject); taken && owner.ChatID != user.ChatID {
		service.runtime.logger.Warn("google account already linked to another chat",
			zap.String("code", "calendar.auth.provider_id_taken"),
			zap.Int64("chat_id", user.ChatID),
			zap.Int64("owner_chat_id", owner.ChatID))
		return update
	}
	subject := identity.subject
	update.ProviderID = &subject
	if identity.email != "" && user.Email == nil {
		email := identity.email
		update.Email = &email
	}
	return update
}

// RevokeAccess deletes the user's stored token. It reports false when the
// chat id is unknown.
func (service *AuthService) RevokeAccess(ctx context.Context, chatID int64) (bool, error) {
	revoked, err := inTransaction(ctx, service.database, func(repositories store.Repositories) (bool, error) {
		user, found := repositories.Users.GetUserByChatID(ctx, chatID)
		if !found {
			return false, nil
		}
		if deleteErr := NewTokenService(repositories.Tokens).DeleteToken(ctx, user.ID); deleteErr != nil {
			return false, fmt.Errorf("%w: %w", ErrStorage, deleteErr)
		}
		return true, nil
	})
	if err != nil || !revoked {
		return false, err
	}
	service.runtime.metrics.Increment(MetricAccessRevoked)
	return true, nil
}

// IsAuthorized reports whether the chat id has a user with a stored token.
func (service *AuthService) IsAuthorized(ctx context.Context, chatID int64) bool {
	authorized, err := inTransaction(ctx, service.database, func(repositories store.Repositories) (bool, error) {
		user, found := repositories.Users.GetUserByChatID(ctx, chatID)
		if !found {
			return false, nil
		}
		return NewTokenService(repositories.Tokens).TokenExists(ctx, user.ID), nil
	})
	return err == nil && authorized
}

func (service *AuthService) lookup(ctx context.Context, chatID int64) (*store.User, error) {
	return inTransaction(ctx, service.database, func(repositories store.Repositories) (*store.User, error) {
		user, found := repositories.Users.GetUserByChatID(ctx, chatID)
		if !found {
			return nil, fmt.Errorf("calendar.auth.exchange: %w", ErrUserNotFound)
		}
		return user, nil
	})
}
