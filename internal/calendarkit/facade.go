package calendarkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/tgcalendar/internal/store"
)

// UserProfile is the public view of a stored user.
type UserProfile struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	Nick           string    `json:"nick,omitempty"`
	Email          string    `json:"email,omitempty"`
	HasGoogleToken bool      `json:"has_google_token"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewUserRequest registers a chat user. GoogleID optionally links the
// Google account subject up front.
type NewUserRequest struct {
	ChatID   int64  `validate:"required,gt=0"`
	Nick     string `validate:"omitempty,max=255"`
	Email    string `validate:"omitempty,email"`
	GoogleID string `validate:"omitempty,max=255"`
}

type chatRequest struct {
	ChatID int64 `validate:"required,gt=0"`
}

type searchRequest struct {
	ChatID int64  `validate:"required,gt=0"`
	Query  string `validate:"required,min=1"`
}

// Facade is the chat-id keyed entry point used by the HTTP layer. Inputs are
// validated before any repository access, and each storage step runs in its
// own short transaction.
type Facade struct {
	runtime     *Runtime
	database    Transactor
	credentials *CredentialsManager

	Auth     *AuthService
	Calendar *CalendarService
}

// AuthorizationURL returns the consent URL for a chat.
func (facade *Facade) AuthorizationURL(ctx context.Context, chatID int64) (string, error) {
	if err := facade.check(chatRequest{ChatID: chatID}); err != nil {
		return "", err
	}
	return facade.Auth.AuthorizationURL(ctx, chatID)
}

// HandleCallback completes the OAuth redirect.
func (facade *Facade) HandleCallback(ctx context.Context, code string, state string) (int64, error) {
	return facade.Auth.HandleCallback(ctx, code, state)
}

// ExchangeCode stores the tokens obtained for code.
func (facade *Facade) ExchangeCode(ctx context.Context, chatID int64, code string) error {
	if err := facade.check(chatRequest{ChatID: chatID}); err != nil {
		return err
	}
	return facade.Auth.ExchangeCode(ctx, chatID, code)
}

// RevokeAccess forgets the chat's token.
func (facade *Facade) RevokeAccess(ctx context.Context, chatID int64) (bool, error) {
	if err := facade.check(chatRequest{ChatID: chatID}); err != nil {
		return false, err
	}
	return facade.Auth.RevokeAccess(ctx, chatID)
}

// IsAuthorized reports whether the chat has a stored token.
func (facade *Facade) IsAuthorized(ctx context.Context, chatID int64) bool {
	if chatID <= 0 {
		return false
	}
	return facade.Auth.IsAuthorized(ctx, chatID)
}

// LoadCredentials reports whether the chat has a usable credential.
func (facade *Facade) LoadCredentials(ctx context.Context, chatID int64) (bool, error) {
	if err := facade.check(chatRequest{ChatID: chatID}); err != nil {
		return false, err
	}
	userID, err := facade.userID(ctx, chatID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return facade.credentials.LoadCredentials(ctx, userID)
}

// GetUser returns the profile of a chat user.
func (facade *Facade) GetUser(ctx context.Context, chatID int64) (UserProfile, error) {
	if err := facade.check(chatRequest{ChatID: chatID}); err != nil {
		return UserProfile{}, err
	}
	return inTransaction(ctx, facade.database, func(repositories store.Repositories) (UserProfile, error) {
		user, found := repositories.Users.GetUserByChatID(ctx, chatID)
		if !found {
			return UserProfile{}, fmt.Errorf("calendar.users.get: %w", ErrUserNotFound)
		}
		return facade.profile(ctx, repositories, user), nil
	})
}

// CreateUser registers a chat user; an existing user is returned unchanged.
// A google id already linked to another chat is a conflict.
func (facade *Facade) CreateUser(ctx context.Context, request NewUserRequest) (UserProfile, error) {
	request.Nick = strings.TrimSpace(request.Nick)
	request.Email = strings.TrimSpace(request.Email)
	request.GoogleID = strings.TrimSpace(request.GoogleID)
	if err := facade.check(request); err != nil {
		return UserProfile{}, err
	}
	return inTransaction(ctx, facade.database, func(repositories store.Repositories) (UserProfile, error) {
		user, err := repositories.Users.AddUser(ctx, store.NewUser{
			ChatID:     request.ChatID,
			Nick:       store.NullableString(request.Nick),
			Email:      store.NullableString(request.Email),
			ProviderID: store.NullableString(request.GoogleID),
		})
		if errors.Is(err, store.ErrDuplicate) {
			return UserProfile{}, fmt.Errorf("calendar.users.create.google_id_taken: %w", err)
		}
		if err != nil {
			return UserProfile{}, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		return facade.profile(ctx, repositories, user), nil
	})
}

// ListEvents returns upcoming events; daysAhead <= 0 selects the default window.
func (facade *Facade) ListEvents(ctx context.Context, chatID int64, daysAhead int) ([]Event, error) {
	userID, err := facade.userID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return facade.Calendar.ListEvents(ctx, userID, daysAhead)
}

// SearchEvents runs a free-text search over upcoming events.
func (facade *Facade) SearchEvents(ctx context.Context, chatID int64, query string, daysAhead int) ([]Event, error) {
	query = strings.TrimSpace(query)
	if err := facade.check(searchRequest{ChatID: chatID, Query: query}); err != nil {
		return nil, err
	}
	userID, err := facade.userID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return facade.Calendar.SearchEvents(ctx, userID, query, daysAhead)
}

// EventsInRange returns the events inside window.
func (facade *Facade) EventsInRange(ctx context.Context, chatID int64, window TimeRange) ([]Event, error) {
	if err := facade.check(chatRequest{ChatID: chatID}); err != nil {
		return nil, err
	}
	if err := facade.check(window); err != nil {
		return nil, err
	}
	userID, err := facade.userID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return facade.Calendar.EventsInRange(ctx, userID, window.Start, window.End)
}

// GetEvent fetches one event.
func (facade *Facade) GetEvent(ctx context.Context, chatID int64, eventID string) (Event, error) {
	if err := facade.checkEventID(eventID); err != nil {
		return Event{}, err
	}
	userID, err := facade.userID(ctx, chatID)
	if err != nil {
		return Event{}, err
	}
	return facade.Calendar.GetEvent(ctx, userID, eventID)
}

// CreateEvent adds an event to the primary calendar.
func (facade *Facade) CreateEvent(ctx context.Context, chatID int64, input EventInput) (Event, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := facade.check(chatRequest{ChatID: chatID}); err != nil {
		return Event{}, err
	}
	if err := facade.check(input); err != nil {
		return Event{}, err
	}
	userID, err := facade.userID(ctx, chatID)
	if err != nil {
		return Event{}, err
	}
	return facade.Calendar.CreateEvent(ctx, userID, input)
}

// UpdateEvent applies patch to an event.
func (facade *Facade) UpdateEvent(ctx context.Context, chatID int64, eventID string, patch EventPatch) (Event, error) {
	if err := facade.checkEventID(eventID); err != nil {
		return Event{}, err
	}
	if patch.Start != nil && patch.End != nil && !patch.End.After(*patch.Start) {
		return Event{}, fmt.Errorf("calendar.events.update.end_before_start: %w", ErrValidation)
	}
	userID, err := facade.userID(ctx, chatID)
	if err != nil {
		return Event{}, err
	}
	return facade.Calendar.UpdateEvent(ctx, userID, eventID, patch)
}

// DeleteEvent removes an event.
func (facade *Facade) DeleteEvent(ctx context.Context, chatID int64, eventID string) error {
	if err := facade.checkEventID(eventID); err != nil {
		return err
	}
	userID, err := facade.userID(ctx, chatID)
	if err != nil {
		return err
	}
	return facade.Calendar.DeleteEvent(ctx, userID, eventID)
}

func (facade *Facade) userID(ctx context.Context, chatID int64) (int64, error) {
	if err := facade.check(chatRequest{ChatID: chatID}); err != nil {
		return 0, err
	}
	return inTransaction(ctx, facade.database, func(repositories store.Repositories) (int64, error) {
		user, found := repositories.Users.GetUserByChatID(ctx, chatID)
		if !found {
			return 0, fmt.Errorf("calendar.users.lookup: %w", ErrUserNotFound)
		}
		return user.ID, nil
	})
}

func (facade *Facade) checkEventID(eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return fmt.Errorf("calendar.events.empty_id: %w", ErrValidation)
	}
	return nil
}

func (facade *Facade) check(request any) error {
	if err := facade.runtime.validate.Struct(request); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	return nil
}

func (facade *Facade) profile(ctx context.Context, repositories store.Repositories, user *store.User) UserProfile {
	profile := UserProfile{
		ID:             user.ID,
		ChatID:         user.ChatID,
		HasGoogleToken: NewTokenService(repositories.Tokens).TokenExists(ctx, user.ID),
		CreatedAt:      user.CreatedAt,
	}
	if user.Nick != nil {
		profile.Nick = *user.Nick
	}
	if user.Email != nil {
		profile.Email = *user.Email
	}
	return profile
}
