package calendarkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tyemirov/tgcalendar/internal/store"
)

func TestCredentialExpired(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testCases := []struct {
		name    string
		expiry  time.Time
		expired bool
	}{
		{name: "no expiry", expiry: time.Time{}, expired: false},
		{name: "far future", expiry: now.Add(time.Hour), expired: false},
		{name: "inside leeway", expiry: now.Add(5 * time.Second), expired: true},
		{name: "past", expiry: now.Add(-time.Minute), expired: true},
	}
	for _, testCase := range testCases {
		if got := (Credential{Expiry: testCase.expiry}).Expired(now); got != testCase.expired {
			t.Fatalf("%s: expected expired=%v, got %v", testCase.name, testCase.expired, got)
		}
	}
}

func TestBuildCredentialCarriesClientAndScopes(t *testing.T) {
	environment := newTestEnvironment(t)
	manager := environment.runtime.NewFacade(environment.database).credentials
	refresh := "refresh-value"
	scopes := `["https://www.googleapis.com/auth/calendar.readonly"]`
	wallClock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("", 0))

	credential := manager.BuildCredential(store.Token{
		AccessToken:  "access-value",
		RefreshToken: &refresh,
		TokenType:    "Bearer",
		Expiry:       &wallClock,
		Scopes:       &scopes,
	})
	if credential.ClientID != "client-id" || credential.ClientSecret != "client-secret" {
		t.Fatalf("expected client credentials, got %+v", credential)
	}
	if credential.TokenURL != environment.google.server.URL+"/token" {
		t.Fatalf("unexpected token url %q", credential.TokenURL)
	}
	if len(credential.Scopes) != 1 || credential.Scopes[0] != "https://www.googleapis.com/auth/calendar.readonly" {
		t.Fatalf("unexpected scopes %v", credential.Scopes)
	}
	if credential.Expiry.Location() != time.UTC || !credential.Expiry.Equal(wallClock) {
		t.Fatalf("expected UTC expiry, got %v", credential.Expiry)
	}

	fallback := manager.BuildCredential(store.Token{AccessToken: "access-value"})
	if len(fallback.Scopes) != len(DefaultScopes()) {
		t.Fatalf("expected configured scopes as fallback, got %v", fallback.Scopes)
	}
}

func TestExpiredCredentialRefreshedOnce(t *testing.T) {
	environment := newTestEnvironment(t)
	ctx := context.Background()
	stale := "stale-refresh"
	environment.seedUser(t, 42, store.TokenInput{
		AccessToken:  "stale-access",
		RefreshToken: &stale,
		Expiry:       timePointer(environment.clock.Now().Add(-time.Minute)),
	})

	for attempt := 0; attempt < 2; attempt++ {
		err := environment.withFacade(t, func(facade *Facade) error {
			_, err := facade.ListEvents(ctx, 42, 0)
			return err
		})
		if err != nil {
			t.Fatalf("attempt %d: list failed: %v", attempt, err)
		}
		if got := environment.google.lastAuthorization(); got != "Bearer refreshed-access" {
			t.Fatalf("attempt %d: expected refreshed access token, got %q", attempt, got)
		}
	}
	if calls := environment.google.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected a single refresh, got %d", calls)
	}

	token := environment.storedToken(t, 42)
	if token.AccessToken != "refreshed-access" {
		t.Fatalf("expected stored access token to be replaced, got %q", token.AccessToken)
	}
	if token.RefreshToken == nil || *token.RefreshToken != stale {
		t.Fatalf("expected refresh token to be kept, got %v", token.RefreshToken)
	}
	if token.Expiry == nil || !token.Expiry.After(environment.clock.Now()) {
		t.Fatalf("expected future expiry, got %v", token.Expiry)
	}
	if stats := environment.metrics.Calls(CallTokenRefresh); stats.Calls != 1 || stats.Failures != 0 {
		t.Fatalf("expected one successful refresh, got %+v", stats)
	}
}

func TestValidCredentialNotRefreshed(t *testing.T) {
	environment := newTestEnvironment(t)
	ctx := context.Background()
	refresh := "refresh-value"
	environment.seedUser(t, 42, store.TokenInput{
		AccessToken:  "live-access",
		RefreshToken: &refresh,
		Expiry:       timePointer(environment.clock.Now().Add(time.Hour)),
	})

	err := environment.withFacade(t, func(facade *Facade) error {
		usable, err := facade.LoadCredentials(ctx, 42)
		if err != nil || !usable {
			t.Fatalf("expected usable credential, got %v %v", usable, err)
		}
		_, err = facade.ListEvents(ctx, 42, 1)
		return err
	})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if calls := environment.google.refreshCalls.Load(); calls != 0 {
		t.Fatalf("expected no refresh, got %d", calls)
	}
	if got := environment.google.lastAuthorization(); got != "Bearer live-access" {
		t.Fatalf("expected stored access token, got %q", got)
	}
}

func TestCredentialFailures(t *testing.T) {
	environment := newTestEnvironment(t)
	ctx := context.Background()
	past := environment.clock.Now().Add(-time.Minute)
	broken := "broken-refresh"

	environment.seedUser(t, 1, store.TokenInput{})
	environment.seedUser(t, 2, store.TokenInput{AccessToken: "expired-access", Expiry: &past})
	environment.seedUser(t, 3, store.TokenInput{AccessToken: "expired-access", RefreshToken: &broken, Expiry: &past})
	environment.google.failRefresh.Store(true)

	testCases := []struct {
		name       string
		chatID     int64
		listErr    error
		usable     bool
		loadFailed bool
	}{
		{name: "no token", chatID: 1, listErr: ErrNoCredentials},
		{name: "expired without refresh token", chatID: 2, listErr: ErrReauthorizationRequired},
		{name: "refresh rejected", chatID: 3, listErr: ErrCredentialRefresh, loadFailed: true},
		{name: "unknown chat", chatID: 4, listErr: ErrUserNotFound},
	}
	for _, testCase := range testCases {
		err := environment.withFacade(t, func(facade *Facade) error {
			if _, err := facade.ListEvents(ctx, testCase.chatID, 0); !errors.Is(err, testCase.listErr) {
				t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.listErr, err)
			}
			usable, err := facade.LoadCredentials(ctx, testCase.chatID)
			if usable != testCase.usable || (err != nil) != testCase.loadFailed {
				t.Fatalf("%s: unexpected load result %v %v", testCase.name, usable, err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("%s: transaction failed: %v", testCase.name, err)
		}
	}
	if stats := environment.metrics.Calls(CallTokenRefresh); stats.Failures == 0 {
		t.Fatalf("expected refresh failures to be recorded, got %+v", stats)
	}
	if environment.metrics.Count(MetricReauthorizationNeeded) == 0 {
		t.Fatalf("expected reauthorization metric")
	}
}

func TestConcurrentRefreshSharesOneExchange(t *testing.T) {
	environment := newTestEnvironment(t)
	stale := "shared-refresh"
	environment.seedUser(t, 42, store.TokenInput{
		AccessToken:  "stale-access",
		RefreshToken: &stale,
		Expiry:       timePointer(environment.clock.Now().Add(-time.Minute)),
	})
	environment.google.refreshGate = make(chan struct{})

	const callers = 5
	var waitGroup sync.WaitGroup
	failures := make(chan error, callers)
	for index := 0; index < callers; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			facade := environment.runtime.NewFacade(environment.database)
			usable, err := facade.LoadCredentials(context.Background(), 42)
			if err == nil && !usable {
				err = errors.New("credential not usable")
			}
			if err != nil {
				failures <- err
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for environment.google.refreshCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(environment.google.refreshGate)
	waitGroup.Wait()
	close(failures)

	for err := range failures {
		t.Fatalf("refresh failed: %v", err)
	}
	if calls := environment.google.refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected one token endpoint call, got %d", calls)
	}
	if token := environment.storedToken(t, 42); token.AccessToken != "refreshed-access" {
		t.Fatalf("expected refreshed token to be stored, got %q", token.AccessToken)
	}
}

func TestRefreshHoldsNoStorageSession(t *testing.T) {
	environment := newTestEnvironment(t)
	stale := "stale-refresh"
	environment.seedUser(t, 42, store.TokenInput{
		AccessToken:  "stale-access",
		RefreshToken: &stale,
		Expiry:       timePointer(environment.clock.Now().Add(-time.Minute)),
	})
	environment.seedUser(t, 7, store.TokenInput{})
	environment.google.refreshGate = make(chan struct{})
	released := false
	release := func() {
		if !released {
			released = true
			close(environment.google.refreshGate)
		}
	}
	defer release()

	refreshed := make(chan error, 1)
	go func() {
		_, err := environment.runtime.NewFacade(environment.database).LoadCredentials(context.Background(), 42)
		refreshed <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for environment.google.refreshCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	profile, err := environment.runtime.NewFacade(environment.database).GetUser(ctx, 7)
	if err != nil || profile.ChatID != 7 {
		t.Fatalf("expected lookup during refresh to succeed, got %+v %v", profile, err)
	}

	release()
	if err := <-refreshed; err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
}
