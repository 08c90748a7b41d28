package calendarkit

import "errors"

var (
	// ErrUserNotFound indicates that no user holds the chat id.
	ErrUserNotFound = errors.New("calendar.user_not_found")
	// ErrNoCredentials indicates that the user never completed authorization.
	ErrNoCredentials = errors.New("calendar.no_credentials")
	// ErrReauthorizationRequired indicates an expired credential without a refresh token.
	ErrReauthorizationRequired = errors.New("calendar.reauthorization_required")
	// ErrCredentialRefresh indicates that the token endpoint refused or failed a refresh.
	ErrCredentialRefresh = errors.New("calendar.credential_refresh_failed")
	// ErrEventNotFound indicates that the remote calendar has no such event.
	ErrEventNotFound = errors.New("calendar.event_not_found")
	// ErrUpstream indicates a failed remote call.
	ErrUpstream = errors.New("calendar.upstream_failure")
	// ErrUpstreamTimeout indicates a remote call that exceeded its deadline.
	ErrUpstreamTimeout = errors.New("calendar.upstream_timeout")
	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("calendar.validation_failed")
	// ErrInvalidState indicates an OAuth callback whose state is missing, forged or expired.
	ErrInvalidState = errors.New("calendar.invalid_state")
	// ErrStorage indicates a failed storage write.
	ErrStorage = errors.New("calendar.storage_failure")
	// ErrInvalidConfig indicates an unusable service configuration.
	ErrInvalidConfig = errors.New("calendar.invalid_config")
)
