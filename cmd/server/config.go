package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tyemirov/tgcalendar/internal/backend"
	"github.com/tyemirov/tgcalendar/internal/calendarkit"
	"github.com/tyemirov/tgcalendar/internal/store"
)

const (
	configCodeInvalidDatabaseBackend  = "config.invalid_database_backend"
	configCodeMissingDatabaseURL      = "config.missing_database_url"
	configCodeMissingGoogleClientID   = "config.missing_google_client_id"
	configCodeMissingGoogleSecret     = "config.missing_google_client_secret"
	configCodeMissingStateSigningKey  = "config.missing_state_signing_key"
	configCodeInvalidStateTTL         = "config.invalid_state_ttl"
	configCodeInvalidRemoteTimeout    = "config.invalid_remote_call_timeout"
	configCodeInvalidWorkerPoolSize   = "config.invalid_worker_pool_size"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeIdentityValidatorInit   = "config.identity_validator_init"
	configCodeDropNotConfirmed        = "config.drop_not_confirmed"
)

const minimumSigningKeyLength = 16

// ServerConfig is everything serve needs, resolved from flags and APP_ env.
type ServerConfig struct {
	ListenAddr         string
	Database           backend.Config
	Service            calendarkit.ServiceConfig
	EnableCORS         bool
	CORSAllowedOrigins []string
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadDatabaseConfig resolves database_backend and database_url.
func LoadDatabaseConfig() (backend.Config, error) {
	backendName := strings.ToLower(strings.TrimSpace(viper.GetString("database_backend")))
	if backendName == "" {
		backendName = string(store.KindSQLite)
	}
	kind, ok := store.ParseKind(backendName)
	if !ok {
		return backend.Config{}, configError(configCodeInvalidDatabaseBackend, "database_backend must be sqlite or postgres")
	}
	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	if databaseURL == "" {
		return backend.Config{}, configError(configCodeMissingDatabaseURL, "database_url must be provided")
	}
	return backend.Config{Kind: kind, URL: databaseURL}, nil
}

// LoadServerConfig validates the serve configuration.
func LoadServerConfig() (ServerConfig, error) {
	databaseConfig, err := LoadDatabaseConfig()
	if err != nil {
		return ServerConfig{}, err
	}

	googleClientID := viper.GetString("google_client_id")
	if googleClientID == "" {
		return ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}
	googleClientSecret := viper.GetString("google_client_secret")
	if googleClientSecret == "" {
		return ServerConfig{}, configError(configCodeMissingGoogleSecret, "google_client_secret must be provided")
	}
	stateSigningKey := viper.GetString("state_signing_key")
	if len(stateSigningKey) < minimumSigningKeyLength {
		return ServerConfig{}, configError(configCodeMissingStateSigningKey, fmt.Sprintf("state_signing_key must be at least %d bytes", minimumSigningKeyLength))
	}

	stateTTL := durationOrDefault("state_ttl", calendarkit.DefaultStateTTL)
	if stateTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidStateTTL, "state_ttl must be greater than zero")
	}
	remoteCallTimeout := durationOrDefault("remote_call_timeout", calendarkit.DefaultRemoteCallTimeout)
	if remoteCallTimeout <= 0 {
		return ServerConfig{}, configError(configCodeInvalidRemoteTimeout, "remote_call_timeout must be greater than zero")
	}
	workerPoolSize := calendarkit.DefaultWorkerPoolSize
	if viper.IsSet("worker_pool_size") {
		workerPoolSize = viper.GetInt("worker_pool_size")
	}
	if workerPoolSize <= 0 {
		return ServerConfig{}, configError(configCodeInvalidWorkerPoolSize, "worker_pool_size must be greater than zero")
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return ServerConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	listenAddr := viper.GetString("listen_addr")
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	return ServerConfig{
		ListenAddr: listenAddr,
		Database:   databaseConfig,
		Service: calendarkit.ServiceConfig{
			GoogleClientID:     googleClientID,
			GoogleClientSecret: googleClientSecret,
			RedirectURL:        viper.GetString("oauth_redirect_url"),
			AuthURL:            viper.GetString("google_auth_url"),
			TokenURL:           viper.GetString("google_token_url"),
			CalendarEndpoint:   viper.GetString("calendar_endpoint"),
			StateSigningKey:    []byte(stateSigningKey),
			StateTTL:           stateTTL,
			RemoteCallTimeout:  remoteCallTimeout,
			WorkerPoolSize:     workerPoolSize,
		},
		EnableCORS:         enableCORS,
		CORSAllowedOrigins: corsAllowedOrigins,
	}, nil
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	if !viper.IsSet(key) {
		return fallback
	}
	return viper.GetDuration(key)
}
