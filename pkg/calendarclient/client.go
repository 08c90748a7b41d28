// Package calendarclient calls the tgcalendar HTTP API from bot processes.
package calendarclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a request when Config.Timeout is zero. It exceeds the
// server's default remote call timeout.
const DefaultTimeout = 45 * time.Second

// Sentinel errors returned for non-2xx responses.
var (
	ErrMissingBaseURL = errors.New("calendar.client.missing_base_url")
	ErrNotAuthorized  = errors.New("calendar.client.not_authorized")
	ErrNotFound       = errors.New("calendar.client.not_found")
	ErrTimeout        = errors.New("calendar.client.timeout")
	ErrBadRequest     = errors.New("calendar.client.bad_request")
	ErrServer         = errors.New("calendar.client.server_error")
)

// APIError carries the status and error code of a failed call.
type APIError struct {
	Status int
	Code   string
	kind   error
}

func (apiError *APIError) Error() string {
	return fmt.Sprintf("%s: status %d (%s)", apiError.kind, apiError.Status, apiError.Code)
}

func (apiError *APIError) Unwrap() error {
	return apiError.kind
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// User mirrors the user payload.
type User struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	Nick           string    `json:"nick,omitempty"`
	Email          string    `json:"email,omitempty"`
	HasGoogleToken bool      `json:"has_google_token"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewUser registers a chat user.
type NewUser struct {
	ChatID int64  `json:"chat_id"`
	Nick   string `json:"nick,omitempty"`
	Email  string `json:"email,omitempty"`
}

// EventTime is an all-day date or a timestamp.
type EventTime struct {
	Date     string     `json:"date,omitempty"`
	DateTime *time.Time `json:"date_time,omitempty"`
	TimeZone string     `json:"time_zone,omitempty"`
}

// Person identifies an event creator or organizer.
type Person struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Self        bool   `json:"self,omitempty"`
}

// Event mirrors the event payload.
type Event struct {
	ID          string    `json:"id"`
	Status      string    `json:"status,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	HTMLLink    string    `json:"html_link,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
	Creator     *Person   `json:"creator,omitempty"`
	Organizer   *Person   `json:"organizer,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// EventInput describes an event to create.
type EventInput struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TimeZone    string    `json:"time_zone,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// EventPatch changes selected fields of an event.
type EventPatch struct {
	Title       string     `json:"title,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	End         *time.Time `json:"end,omitempty"`
	TimeZone    string     `json:"time_zone,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
}

// Health is the /healthz payload.
type Health struct {
	Status  string           `json:"status"`
	Backend string           `json:"backend"`
	Metrics map[string]int64 `json:"metrics,omitempty"`
}

type eventsPayload struct {
	Events []Event `json:"events"`
}

// New validates the configuration and builds a Client.
func New(configuration Config) (*Client, error) {
	if strings.TrimSpace(configuration.BaseURL) == "" {
		return nil, fmt.Errorf("calendar.client.new: %w", ErrMissingBaseURL)
	}
	baseURL, err := url.Parse(strings.TrimRight(configuration.BaseURL, "/"))
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("calendar.client.new: %w: %q", ErrMissingBaseURL, configuration.BaseURL)
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		timeout := configuration.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

// AuthURL returns the consent URL the chat user must open.
func (client *Client) AuthURL(ctx context.Context, chatID int64) (string, error) {
	var payload struct {
		AuthURL string `json:"auth_url"`
	}
	err := client.do(ctx, http.MethodGet, "/calendar/auth_url", chatQuery(chatID), nil, &payload)
	return payload.AuthURL, err
}

// RevokeAccess forgets the chat's Google token.
func (client *Client) RevokeAccess(ctx context.Context, chatID int64) error {
	return client.do(ctx, http.MethodDelete, "/calendar/revoke_access", chatQuery(chatID), nil, nil)
}

// GetUser fetches a chat user.
func (client *Client) GetUser(ctx context.Context, chatID int64) (User, error) {
	var user User
	err := client.do(ctx, http.MethodGet, "/calendar/users/"+strconv.FormatInt(chatID, 10), nil, nil, &user)
	return user, err
}

// CreateUser registers a chat user; an existing user is returned as is.
func (client *Client) CreateUser(ctx context.Context, user NewUser) (User, error) {
	var created User
	err := client.do(ctx, http.MethodPost, "/calendar/users", nil, user, &created)
	return created, err
}

// ListEvents returns upcoming events. daysAhead <= 0 uses the server default.
func (client *Client) ListEvents(ctx context.Context, chatID int64, daysAhead int) ([]Event, error) {
	query := chatQuery(chatID)
	if daysAhead > 0 {
		query.Set("days_ahead", strconv.Itoa(daysAhead))
	}
	var payload eventsPayload
	err := client.do(ctx, http.MethodGet, "/calendar/events", query, nil, &payload)
	return payload.Events, err
}

// SearchEvents runs a text search over upcoming events.
func (client *Client) SearchEvents(ctx context.Context, chatID int64, text string, daysAhead int) ([]Event, error) {
	query := chatQuery(chatID)
	query.Set("query", text)
	if daysAhead > 0 {
		query.Set("days_ahead", strconv.Itoa(daysAhead))
	}
	var payload eventsPayload
	err := client.do(ctx, http.MethodGet, "/calendar/events/search", query, nil, &payload)
	return payload.Events, err
}

// EventsInRange returns events between start and end.
func (client *Client) EventsInRange(ctx context.Context, chatID int64, start time.Time, end time.Time) ([]Event, error) {
	body := struct {
		ChatID int64     `json:"chat_id"`
		Start  time.Time `json:"start"`
		End    time.Time `json:"end"`
	}{ChatID: chatID, Start: start, End: end}
	var payload eventsPayload
	err := client.do(ctx, http.MethodPost, "/calendar/events/range", nil, body, &payload)
	return payload.Events, err
}

// GetEvent fetches one event.
func (client *Client) GetEvent(ctx context.Context, chatID int64, eventID string) (Event, error) {
	var event Event
	err := client.do(ctx, http.MethodGet, eventPath(eventID), chatQuery(chatID), nil, &event)
	return event, err
}

// CreateEvent adds an event to the chat user's primary calendar.
func (client *Client) CreateEvent(ctx context.Context, chatID int64, input EventInput) (Event, error) {
	body := struct {
		ChatID int64 `json:"chat_id"`
		EventInput
	}{ChatID: chatID, EventInput: input}
	var event Event
	err := client.do(ctx, http.MethodPost, "/calendar/events", nil, body, &event)
	return event, err
}

// UpdateEvent applies patch to an event.
func (client *Client) UpdateEvent(ctx context.Context, chatID int64, eventID string, patch EventPatch) (Event, error) {
	body := struct {
		ChatID int64 `json:"chat_id"`
		EventPatch
	}{ChatID: chatID, EventPatch: patch}
	var event Event
	err := client.do(ctx, http.MethodPatch, eventPath(eventID), nil, body, &event)
	return event, err
}

// DeleteEvent removes an event.
func (client *Client) DeleteEvent(ctx context.Context, chatID int64, eventID string) error {
	return client.do(ctx, http.MethodDelete, eventPath(eventID), chatQuery(chatID), nil, nil)
}

// Health reports server status.
func (client *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	err := client.do(ctx, http.MethodGet, "/healthz", nil, nil, &health)
	return health, err
}

func chatQuery(chatID int64) url.Values {
	return url.Values{"chat_id": []string{strconv.FormatInt(chatID, 10)}}
}

func eventPath(eventID string) string {
	return "/calendar/events/" + url.PathEscape(eventID)
}

func (client *Client) do(ctx context.Context, method string, path string, query url.Values, body any, target any) error {
	endpoint := *client.baseURL
	endpoint.RawPath = strings.TrimRight(client.baseURL.EscapedPath(), "/") + path
	unescaped, err := url.PathUnescape(endpoint.RawPath)
	if err != nil {
		return fmt.Errorf("calendar.client.path: %w", err)
	}
	endpoint.Path = unescaped
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("calendar.client.encode: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("calendar.client.request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("calendar.client.%s: %w", strings.ToLower(method), err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(response)
	}
	if target == nil || response.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("calendar.client.decode: %w", err)
	}
	return nil
}

func decodeAPIError(response *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(response.Body, 64<<10)).Decode(&payload)
	apiError := &APIError{Status: response.StatusCode, Code: payload.Error}
	switch {
	case response.StatusCode == http.StatusUnauthorized:
		apiError.kind = ErrNotAuthorized
	case response.StatusCode == http.StatusNotFound:
		apiError.kind = ErrNotFound
	case response.StatusCode == http.StatusRequestTimeout:
		apiError.kind = ErrTimeout
	case response.StatusCode < http.StatusInternalServerError:
		apiError.kind = ErrBadRequest
	default:
		apiError.kind = ErrServer
	}
	return apiError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
