package calendarkit

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/idtoken"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// IdentityValidator verifies Google ID tokens returned by the code exchange.
type IdentityValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// Runtime holds the process-wide collaborators shared by every request.
type Runtime struct {
	config      ServiceConfig
	oauthConfig *oauth2.Config
	pool        *WorkerPool
	refreshes   *singleflight.Group
	clock       Clock
	logger      *zap.Logger
	metrics     MetricsRecorder
	httpClient  *http.Client
	identity    IdentityValidator
	validate    *validator.Validate
}

// RuntimeOption customizes a Runtime.
type RuntimeOption func(*Runtime)

// WithClock replaces the system clock.
func WithClock(clock Clock) RuntimeOption {
	return func(runtime *Runtime) {
		if clock != nil {
			runtime.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RuntimeOption {
	return func(runtime *Runtime) {
		if logger != nil {
			runtime.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) RuntimeOption {
	return func(runtime *Runtime) {
		if metrics != nil {
			runtime.metrics = metrics
		}
	}
}

// WithHTTPClient sets the base HTTP client for OAuth and Calendar calls.
func WithHTTPClient(client *http.Client) RuntimeOption {
	return func(runtime *Runtime) {
		runtime.httpClient = client
	}
}

// WithIdentityValidator enables provider id resolution from ID tokens.
func WithIdentityValidator(identity IdentityValidator) RuntimeOption {
	return func(runtime *Runtime) {
		runtime.identity = identity
	}
}

// NewRuntime validates the configuration and builds the shared collaborators.
func NewRuntime(config ServiceConfig, options ...RuntimeOption) (*Runtime, error) {
	resolved, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	endpoint := google.Endpoint
	if resolved.AuthURL != "" {
		endpoint.AuthURL = resolved.AuthURL
	}
	if resolved.TokenURL != "" {
		endpoint.TokenURL = resolved.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	runtime := &Runtime{
		config: resolved,
		oauthConfig: &oauth2.Config{
			ClientID:     resolved.GoogleClientID,
			ClientSecret: resolved.GoogleClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  resolved.RedirectURL,
			Scopes:       resolved.Scopes,
		},
		pool:      NewWorkerPool(resolved.WorkerPoolSize, resolved.RemoteCallTimeout),
		refreshes: &singleflight.Group{},
		clock:     NewSystemClock(),
		logger:    zap.NewNop(),
		metrics:   noopMetrics{},
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, option := range options {
		option(runtime)
	}
	return runtime, nil
}

// Config returns the resolved configuration.
func (runtime *Runtime) Config() ServiceConfig {
	return runtime.config
}

// NewFacade builds the services on top of database. Each storage step runs in
// its own transaction.
func (runtime *Runtime) NewFacade(database Transactor) *Facade {
	credentials := &CredentialsManager{runtime: runtime, database: database}
	return &Facade{
		runtime:     runtime,
		database:    database,
		credentials: credentials,
		Auth:        &AuthService{runtime: runtime, database: database},
		Calendar:    &CalendarService{runtime: runtime, credentials: credentials},
	}
}

// oauthContext carries the configured HTTP client into golang.org/x/oauth2.
func (runtime *Runtime) oauthContext(ctx context.Context) context.Context {
	if runtime.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, runtime.httpClient)
}
