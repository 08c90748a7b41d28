package calendarkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tyemirov/tgcalendar/internal/backend"
	"github.com/tyemirov/tgcalendar/internal/store"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/idtoken"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type fakeIdentityValidator struct {
	payloads map[string]*idtoken.Payload
}

func (validator fakeIdentityValidator) Validate(_ context.Context, idToken string, audience string) (*idtoken.Payload, error) {
	payload, ok := validator.payloads[idToken]
	if !ok || audience != "client-id" {
		return nil, errors.New("invalid id token")
	}
	return payload, nil
}

// fakeGoogle serves the token endpoint and the events part of the Calendar API.
type fakeGoogle struct {
	server *httptest.Server

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	listCalls     atomic.Int32
	failRefresh   atomic.Bool
	// refreshGate, when set, holds refresh responses until closed.
	refreshGate chan struct{}
	// listGate, when set, holds list responses until closed or abandoned.
	listGate chan struct{}

	mutex          sync.Mutex
	authorizations []string
	queries        []string
	events         map[string]map[string]any
	nextID         int
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	google := &fakeGoogle{events: map[string]map[string]any{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", google.handleToken)
	mux.HandleFunc("GET /calendars/primary/events", google.handleList)
	mux.HandleFunc("POST /calendars/primary/events", google.handleInsert)
	mux.HandleFunc("GET /calendars/primary/events/{id}", google.handleGet)
	mux.HandleFunc("PUT /calendars/primary/events/{id}", google.handleUpdate)
	mux.HandleFunc("DELETE /calendars/primary/events/{id}", google.handleDelete)
	google.server = httptest.NewServer(mux)
	t.Cleanup(google.server.Close)
	return google
}

func (google *fakeGoogle) addEvent(event map[string]any) {
	google.mutex.Lock()
	defer google.mutex.Unlock()
	google.events[event["id"].(string)] = event
}

func (google *fakeGoogle) lastAuthorization() string {
	google.mutex.Lock()
	defer google.mutex.Unlock()
	if len(google.authorizations) == 0 {
		return ""
	}
	return google.authorizations[len(google.authorizations)-1]
}

func (google *fakeGoogle) record(request *http.Request) {
	google.mutex.Lock()
	defer google.mutex.Unlock()
	google.authorizations = append(google.authorizations, request.Header.Get("Authorization"))
	google.queries = append(google.queries, request.URL.RawQuery)
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}

func writeAPIError(writer http.ResponseWriter, status int) {
	writeJSON(writer, status, map[string]any{
		"error": map[string]any{"code": status, "message": http.StatusText(status)},
	})
}

func (google *fakeGoogle) handleToken(writer http.ResponseWriter, request *http.Request) {
	if err := request.ParseForm(); err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if request.Form.Get("client_id") != "client-id" || request.Form.Get("client_secret") != "client-secret" {
		writeJSON(writer, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	switch request.Form.Get("grant_type") {
	case "authorization_code":
		google.exchangeCalls.Add(1)
		if request.Form.Get("code") != "fakecode" {
			writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(writer, http.StatusOK, map[string]any{
			"access_token":  "fake-access",
			"refresh_token": "fake-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"id_token":      "fake-id-token",
		})
	case "refresh_token":
		google.refreshCalls.Add(1)
		if google.refreshGate != nil {
			<-google.refreshGate
		}
		if google.failRefresh.Load() {
			writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(writer, http.StatusOK, map[string]any{
			"access_token": "refreshed-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

// handleList pages through the events in id order. Page tokens are
// "offset-N"; a malformed item closes the last page and is dropped by the client.
func (google *fakeGoogle) handleList(writer http.ResponseWriter, request *http.Request) {
	google.record(request)
	google.listCalls.Add(1)
	if google.listGate != nil {
		select {
		case <-google.listGate:
		case <-request.Context().Done():
			return
		}
	}
	query := request.URL.Query()
	pageSize, err := strconv.Atoi(query.Get("maxResults"))
	if err != nil || pageSize <= 0 {
		pageSize = 250
	}
	offset := 0
	if token := query.Get("pageToken"); token != "" {
		if _, scanErr := fmt.Sscanf(token, "offset-%d", &offset); scanErr != nil {
			writeAPIError(writer, http.StatusBadRequest)
			return
		}
	}
	google.mutex.Lock()
	ids := make([]string, 0, len(google.events))
	for id := range google.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := []any{}
	end := min(offset+pageSize, len(ids))
	for _, id := range ids[min(offset, end):end] {
		items = append(items, google.events[id])
	}
	google.mutex.Unlock()
	body := map[string]any{"kind": "calendar#events"}
	if end < len(ids) {
		body["nextPageToken"] = fmt.Sprintf("offset-%d", end)
	} else {
		items = append(items, map[string]any{"summary": "no id"})
	}
	body["items"] = items
	writeJSON(writer, http.StatusOK, body)
}

func (google *fakeGoogle) handleInsert(writer http.ResponseWriter, request *http.Request) {
	google.record(request)
	var event map[string]any
	if err := json.NewDecoder(request.Body).Decode(&event); err != nil {
		writeAPIError(writer, http.StatusBadRequest)
		return
	}
	google.mutex.Lock()
	google.nextID++
	event["id"] = fmt.Sprintf("created-%d", google.nextID)
	event["status"] = "confirmed"
	google.events[event["id"].(string)] = event
	google.mutex.Unlock()
	writeJSON(writer, http.StatusOK, event)
}

func (google *fakeGoogle) handleGet(writer http.ResponseWriter, request *http.Request) {
	google.record(request)
	google.mutex.Lock()
	event, ok := google.events[request.PathValue("id")]
	google.mutex.Unlock()
	if !ok {
		writeAPIError(writer, http.StatusNotFound)
		return
	}
	writeJSON(writer, http.StatusOK, event)
}

func (google *fakeGoogle) handleUpdate(writer http.ResponseWriter, request *http.Request) {
	google.record(request)
	id := request.PathValue("id")
	var event map[string]any
	if err := json.NewDecoder(request.Body).Decode(&event); err != nil {
		writeAPIError(writer, http.StatusBadRequest)
		return
	}
	google.mutex.Lock()
	defer google.mutex.Unlock()
	if _, ok := google.events[id]; !ok {
		writeAPIError(writer, http.StatusNotFound)
		return
	}
	event["id"] = id
	google.events[id] = event
	writeJSON(writer, http.StatusOK, event)
}

func (google *fakeGoogle) handleDelete(writer http.ResponseWriter, request *http.Request) {
	google.record(request)
	id := request.PathValue("id")
	google.mutex.Lock()
	defer google.mutex.Unlock()
	if _, ok := google.events[id]; !ok {
		writeAPIError(writer, http.StatusGone)
		return
	}
	delete(google.events, id)
	writer.WriteHeader(http.StatusNoContent)
}

type testEnvironment struct {
	google   *fakeGoogle
	clock    *controllableClock
	metrics  *CalendarMetrics
	runtime  *Runtime
	database *backend.Database
}

func newTestConfig(google *fakeGoogle) ServiceConfig {
	return ServiceConfig{
		GoogleClientID:     "client-id",
		GoogleClientSecret: "client-secret",
		RedirectURL:        "http://localhost:8001/calendar/oauth/callback",
		AuthURL:            google.server.URL + "/auth",
		TokenURL:           google.server.URL + "/token",
		CalendarEndpoint:   google.server.URL + "/",
		StateSigningKey:    []byte("state-signing-key"),
		RemoteCallTimeout:  2 * time.Second,
	}
}

func newTestEnvironment(t *testing.T, options ...RuntimeOption) *testEnvironment {
	t.Helper()
	google := newFakeGoogle(t)
	clock := &controllableClock{current: time.Now().UTC().Truncate(time.Second)}
	metrics := NewCalendarMetrics()
	logger := zaptest.NewLogger(t)

	defaults := []RuntimeOption{WithClock(clock), WithLogger(logger), WithMetrics(metrics)}
	runtime, err := NewRuntime(newTestConfig(google), append(defaults, options...)...)
	if err != nil {
		t.Fatalf("failed to build runtime: %v", err)
	}

	ctx := context.Background()
	databaseURL := "sqlite://" + filepath.Join(t.TempDir(), "calendar.db")
	database, err := backend.Open(ctx, backend.Config{Kind: store.KindSQLite, URL: databaseURL}, store.NewZapReporter(logger))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := database.CreateSchema(ctx); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return &testEnvironment{google: google, clock: clock, metrics: metrics, runtime: runtime, database: database}
}

// withFacade runs work against a facade on the test database.
func (environment *testEnvironment) withFacade(t *testing.T, work func(facade *Facade) error) error {
	t.Helper()
	return work(environment.runtime.NewFacade(environment.database))
}

// seedUser stores a user holding the given token and returns its id.
func (environment *testEnvironment) seedUser(t *testing.T, chatID int64, token store.TokenInput) int64 {
	t.Helper()
	var userID int64
	err := environment.database.Transaction(context.Background(), func(repositories store.Repositories) error {
		user, err := repositories.Users.AddUser(context.Background(), store.NewUser{ChatID: chatID})
		if err != nil {
			return err
		}
		userID = user.ID
		if token.AccessToken == "" {
			return nil
		}
		token.UserID = user.ID
		return repositories.Tokens.SaveToken(context.Background(), token)
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return userID
}

func (environment *testEnvironment) storedToken(t *testing.T, chatID int64) *store.Token {
	t.Helper()
	token, err := inTransaction(context.Background(), environment.database, func(repositories store.Repositories) (*store.Token, error) {
		found, ok := repositories.Tokens.GetTokenByChatID(context.Background(), chatID)
		if !ok {
			return nil, errors.New("token not found")
		}
		return found, nil
	})
	if err != nil {
		t.Fatalf("failed to load token: %v", err)
	}
	return token
}

func (environment *testEnvironment) storedUser(t *testing.T, chatID int64) *store.User {
	t.Helper()
	user, err := inTransaction(context.Background(), environment.database, func(repositories store.Repositories) (*store.User, error) {
		found, ok := repositories.Users.GetUserByChatID(context.Background(), chatID)
		if !ok {
			return nil, errors.New("user not found")
		}
		return found, nil
	})
	if err != nil {
		t.Fatalf("failed to load user: %v", err)
	}
	return user
}

func timePointer(value time.Time) *time.Time {
	return &value
}

