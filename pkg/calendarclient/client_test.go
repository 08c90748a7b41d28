package calendarclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()
	for _, baseURL := range []string{"", "   ", "not a url", "/relative"} {
		if _, err := New(Config{BaseURL: baseURL}); !errors.Is(err, ErrMissingBaseURL) {
			t.Fatalf("%q: expected ErrMissingBaseURL, got %v", baseURL, err)
		}
	}
}

func TestClientRequests(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendar/auth_url", func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Query().Get("chat_id") != "42" {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(writer).Encode(map[string]string{"auth_url": "https://accounts.example.com/auth?state=s"})
	})
	mux.HandleFunc("GET /calendar/events", func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Query().Get("days_ahead") != "7" {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(writer).Encode(map[string]any{"events": []map[string]any{{"id": "standup", "summary": "Standup"}}})
	})
	mux.HandleFunc("POST /calendar/events", func(writer http.ResponseWriter, request *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(request.Body).Decode(&body)
		if body["chat_id"] != float64(42) || body["title"] != "Planning" {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		writer.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(writer).Encode(map[string]any{"id": "created-1", "summary": body["title"]})
	})
	mux.HandleFunc("DELETE /calendar/events/{id}", func(writer http.ResponseWriter, request *http.Request) {
		if request.PathValue("id") != "a/b" {
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		writer.WriteHeader(http.StatusNoContent)
	})
	client := newTestClient(t, mux)
	ctx := context.Background()

	authURL, err := client.AuthURL(ctx, 42)
	if err != nil || authURL == "" {
		t.Fatalf("unexpected auth url result %q %v", authURL, err)
	}
	events, err := client.ListEvents(ctx, 42, 7)
	if err != nil || len(events) != 1 || events[0].ID != "standup" {
		t.Fatalf("unexpected events %v %v", events, err)
	}
	created, err := client.CreateEvent(ctx, 42, EventInput{Title: "Planning", Start: start, End: start.Add(time.Hour)})
	if err != nil || created.ID != "created-1" {
		t.Fatalf("unexpected created event %+v %v", created, err)
	}
	if err := client.DeleteEvent(ctx, 42, "a/b"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
}

func TestClientMapsStatuses(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		status   int
		code     string
		expected error
	}{
		{status: http.StatusUnauthorized, code: "calendar.no_credentials", expected: ErrNotAuthorized},
		{status: http.StatusNotFound, code: "calendar.user_not_found", expected: ErrNotFound},
		{status: http.StatusRequestTimeout, code: "calendar.upstream_timeout", expected: ErrTimeout},
		{status: http.StatusBadRequest, code: "calendar.validation_failed", expected: ErrBadRequest},
		{status: http.StatusBadGateway, code: "calendar.upstream_failure", expected: ErrServer},
		{status: http.StatusServiceUnavailable, code: "calendar.credential_refresh_failed", expected: ErrServer},
	}
	for _, testCase := range testCases {
		client := newTestClient(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.WriteHeader(testCase.status)
			_ = json.NewEncoder(writer).Encode(map[string]string{"error": testCase.code})
		}))
		_, err := client.GetUser(context.Background(), 42)
		if !errors.Is(err, testCase.expected) {
			t.Fatalf("%d: expected %v, got %v", testCase.status, testCase.expected, err)
		}
		var apiError *APIError
		if !errors.As(err, &apiError) || apiError.Code != testCase.code || apiError.Status != testCase.status {
			t.Fatalf("%d: expected API error details, got %v", testCase.status, err)
		}
	}
}

func TestClientTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		select {
		case <-release:
		case <-request.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client, err := New(Config{BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	if _, err := client.Health(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
