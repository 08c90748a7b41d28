package calendarkit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tyemirov/tgcalendar/internal/store"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// expiryLeeway treats credentials about to expire as expired.
const expiryLeeway = 10 * time.Second

// Credential is the material needed to authenticate a Calendar API call.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	Scopes       []string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Expired reports whether the access token is unusable at now. A credential
// without expiry never expires.
func (credential Credential) Expired(now time.Time) bool {
	if credential.Expiry.IsZero() {
		return false
	}
	return !now.Before(credential.Expiry.Add(-expiryLeeway))
}

// OAuth2Token converts the credential for golang.org/x/oauth2.
func (credential Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  credential.AccessToken,
		RefreshToken: credential.RefreshToken,
		TokenType:    credential.TokenType,
		Expiry:       credential.Expiry,
	}
}

// CredentialsManager turns stored tokens into usable, refreshed credentials.
type CredentialsManager struct {
	runtime  *Runtime
	database Transactor
}

// BuildCredential assembles a credential from a token record without I/O.
func (manager *CredentialsManager) BuildCredential(token store.Token) Credential {
	credential := Credential{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Scopes:      decodeScopes(token.Scopes, manager.runtime.config.Scopes),
		TokenURL:    manager.runtime.oauthConfig.Endpoint.TokenURL,
		ClientID:    manager.runtime.oauthConfig.ClientID,
		// Secret is required by the token endpoint on refresh.
		ClientSecret: manager.runtime.oauthConfig.ClientSecret,
	}
	if token.RefreshToken != nil {
		credential.RefreshToken = *token.RefreshToken
	}
	if expiry := NormalizeFromStorage(token.Expiry); expiry != nil {
		credential.Expiry = *expiry
	}
	return credential
}

// GetService returns a Calendar client bound to a valid credential of the user.
func (manager *CredentialsManager) GetService(ctx context.Context, userID int64) (*calendar.Service, error) {
	credential, err := manager.usableCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	return manager.runtime.calendarService(ctx, credential)
}

// LoadCredentials reports whether the user holds a usable credential,
// refreshing it when needed. Refresh failures are returned as errors.
func (manager *CredentialsManager) LoadCredentials(ctx context.Context, userID int64) (bool, error) {
	_, err := manager.usableCredential(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoCredentials), errors.Is(err, ErrReauthorizationRequired):
		return false, nil
	default:
		return false, err
	}
}

func (manager *CredentialsManager) usableCredential(ctx context.Context, userID int64) (Credential, error) {
	record, err := manager.loadToken(ctx, userID)
	if err != nil {
		return Credential{}, err
	}
	credential := manager.BuildCredential(*record)
	if !credential.Expired(manager.runtime.clock.Now()) {
		return credential, nil
	}
	if credential.RefreshToken == "" {
		manager.runtime.metrics.Increment(MetricReauthorizationNeeded)
		return Credential{}, fmt.Errorf("calendar.credentials.load: %w", ErrReauthorizationRequired)
	}
	if _, err := manager.refresh(ctx, userID, credential.RefreshToken); err != nil {
		return Credential{}, err
	}
	reloaded, err := manager.loadToken(ctx, userID)
	if err != nil {
		return Credential{}, err
	}
	return manager.BuildCredential(*reloaded), nil
}

func (manager *CredentialsManager) loadToken(ctx context.Context, userID int64) (*store.Token, error) {
	return inTransaction(ctx, manager.database, func(repositories store.Repositories) (*store.Token, error) {
		token, found := NewTokenService(repositories.Tokens).GetToken(ctx, userID)
		if !found {
			return nil, fmt.Errorf("calendar.credentials.load: %w", ErrNoCredentials)
		}
		return token, nil
	})
}

// refresh exchanges the refresh token and stores the result, once per user at
// a time; concurrent callers share the in-flight result. No transaction is
// open while the token endpoint is called.
func (manager *CredentialsManager) refresh(ctx context.Context, userID int64, refreshToken string) (*oauth2.Token, error) {
	runtime := manager.runtime
	result, err, _ := runtime.refreshes.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		detached := context.WithoutCancel(ctx)
		token, refreshErr := observe(detached, runtime, CallTokenRefresh, func(callCtx context.Context) (*oauth2.Token, error) {
			source := runtime.oauthConfig.TokenSource(runtime.oauthContext(callCtx), &oauth2.Token{RefreshToken: refreshToken})
			return source.Token()
		})
		if refreshErr != nil {
			runtime.logger.Warn("credential refresh failed",
				zap.String("code", "calendar.credentials.refresh_failed"),
				zap.Int64("user_id", userID),
				zap.Error(refreshErr))
			return nil, fmt.Errorf("%w: %w", ErrCredentialRefresh, refreshErr)
		}
		if token == nil || token.AccessToken == "" {
			return nil, fmt.Errorf("calendar.credentials.refresh.empty_token: %w", ErrCredentialRefresh)
		}
		refreshed := *token
		if refreshed.RefreshToken == "" {
			refreshed.RefreshToken = refreshToken
		}
		update := store.TokenUpdate{
			AccessToken:  &refreshed.AccessToken,
			RefreshToken: store.NullableString(refreshed.RefreshToken),
			Expiry:       expiryPointer(refreshed.Expiry),
		}
		storeErr := manager.database.Transaction(detached, func(repositories store.Repositories) error {
			return NewTokenService(repositories.Tokens).UpdateToken(detached, userID, update)
		})
		if storeErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorage, storeErr)
		}
		return &refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	shared, ok := result.(*oauth2.Token)
	if !ok || shared == nil {
		return nil, fmt.Errorf("calendar.credentials.refresh: %w", ErrCredentialRefresh)
	}
	token := *shared
	return &token, nil
}

func (runtime *Runtime) calendarService(ctx context.Context, credential Credential) (*calendar.Service, error) {
	httpClient := oauth2.NewClient(runtime.oauthContext(ctx), oauth2.StaticTokenSource(credential.OAuth2Token()))
	options := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if runtime.config.CalendarEndpoint != "" {
		options = append(options, option.WithEndpoint(runtime.config.CalendarEndpoint))
	}
	service, err := calendar.NewService(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return service, nil
}
