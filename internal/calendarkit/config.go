package calendarkit

import (
	"fmt"
	"strings"
	"time"
)

// CalendarScope grants read and write access to the user's calendars.
const CalendarScope = "https://www.googleapis.com/auth/calendar"

// Defaults applied by NewRuntime when the configuration leaves them empty.
const (
	DefaultRedirectURL       = "http://localhost:8001/calendar/oauth/callback"
	DefaultStateIssuer       = "tgcalendar"
	DefaultStateTTL          = 10 * time.Minute
	DefaultRemoteCallTimeout = 30 * time.Second
	DefaultWorkerPoolSize    = 3
)

// DefaultScopes returns the scope set requested during authorization.
func DefaultScopes() []string {
	return []string{CalendarScope, "openid", "email"}
}

// ServiceConfig configures the OAuth client and remote call limits.
type ServiceConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	RedirectURL        string
	// AuthURL, TokenURL and CalendarEndpoint override the Google endpoints.
	AuthURL           string
	TokenURL          string
	CalendarEndpoint  string
	Scopes            []string
	StateSigningKey   []byte
	StateIssuer       string
	StateTTL          time.Duration
	RemoteCallTimeout time.Duration
	WorkerPoolSize    int
}

func (config ServiceConfig) withDefaults() (ServiceConfig, error) {
	if strings.TrimSpace(config.GoogleClientID) == "" {
		return config, fmt.Errorf("calendar.config.google_client_id: %w", ErrInvalidConfig)
	}
	if strings.TrimSpace(config.GoogleClientSecret) == "" {
		return config, fmt.Errorf("calendar.config.google_client_secret: %w", ErrInvalidConfig)
	}
	if len(config.StateSigningKey) == 0 {
		return config, fmt.Errorf("calendar.config.state_signing_key: %w", ErrInvalidConfig)
	}
	if config.RedirectURL == "" {
		config.RedirectURL = DefaultRedirectURL
	}
	if len(config.Scopes) == 0 {
		config.Scopes = DefaultScopes()
	}
	if config.StateIssuer == "" {
		config.StateIssuer = DefaultStateIssuer
	}
	if config.StateTTL <= 0 {
		config.StateTTL = DefaultStateTTL
	}
	if config.RemoteCallTimeout <= 0 {
		config.RemoteCallTimeout = DefaultRemoteCallTimeout
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultWorkerPoolSize
	}
	return config, nil
}
