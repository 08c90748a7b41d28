package calendarkit

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tyemirov/tgcalendar/internal/store"
	"google.golang.org/api/idtoken"
)

func identityFor(subject string, email string) fakeIdentityValidator {
	return fakeIdentityValidator{payloads: map[string]*idtoken.Payload{
		"fake-id-token": {
			Subject: subject,
			Claims:  map[string]interface{}{"sub": subject, "email": email},
		},
	}}
}

func issueState(t *testing.T, environment *testEnvironment, chatID int64) (string, *url.URL) {
	t.Helper()
	var consentURL string
	err := environment.withFacade(t, func(facade *Facade) error {
		issued, err := facade.AuthorizationURL(context.Background(), chatID)
		consentURL = issued
		return err
	})
	if err != nil {
		t.Fatalf("authorization url failed: %v", err)
	}
	parsed, err := url.Parse(consentURL)
	if err != nil {
		t.Fatalf("invalid consent url %q: %v", consentURL, err)
	}
	return parsed.Query().Get("state"), parsed
}

func TestAuthorizationFlowEndToEnd(t *testing.T) {
	environment := newTestEnvironment(t, WithIdentityValidator(identityFor("google-sub-42", "person@example.com")))
	ctx := context.Background()

	state, consent := issueState(t, environment, 42)
	if !strings.HasPrefix(consent.String(), environment.google.server.URL+"/auth") {
		t.Fatalf("unexpected consent endpoint %q", consent.String())
	}
	query := consent.Query()
	if query.Get("client_id") != "client-id" || query.Get("access_type") != "offline" || query.Get("prompt") != "consent" {
		t.Fatalf("unexpected consent parameters %v", query)
	}
	if query.Get("redirect_uri") != "http://localhost:8001/calendar/oauth/callback" {
		t.Fatalf("unexpected redirect uri %q", query.Get("redirect_uri"))
	}
	if !strings.Contains(query.Get("scope"), CalendarScope) {
		t.Fatalf("expected calendar scope, got %q", query.Get("scope"))
	}
	if environment.metrics.Count(MetricAuthURLIssued) != 1 {
		t.Fatalf("expected auth url metric")
	}

	var authorizedChat int64
	err := environment.withFacade(t, func(facade *Facade) error {
		chatID, err := facade.HandleCallback(ctx, "fakecode", state)
		authorizedChat = chatID
		return err
	})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if authorizedChat != 42 {
		t.Fatalf("expected chat 42, got %d", authorizedChat)
	}

	token := environment.storedToken(t, 42)
	if token.AccessToken != "fake-access" {
		t.Fatalf("expected fake-access, got %q", token.AccessToken)
	}
	if token.RefreshToken == nil || *token.RefreshToken != "fake-refresh" {
		t.Fatalf("expected refresh token to be stored, got %v", token.RefreshToken)
	}
	if token.Expiry == nil || token.Expiry.Location() != time.UTC {
		t.Fatalf("expected UTC expiry, got %v", token.Expiry)
	}

	err = environment.withFacade(t, func(facade *Facade) error {
		profile, err := facade.GetUser(ctx, 42)
		if err != nil {
			return err
		}
		if !profile.HasGoogleToken || profile.Email != "person@example.com" {
			t.Fatalf("unexpected profile %+v", profile)
		}
		user := environment.storedUser(t, 42)
		if user.ProviderID == nil || *user.ProviderID != "google-sub-42" {
			t.Fatalf("expected google subject as provider id, got %v", user.ProviderID)
		}
		if !facade.IsAuthorized(ctx, 42) {
			t.Fatalf("expected chat to be authorized")
		}
		usable, err := facade.LoadCredentials(ctx, 42)
		if err != nil || !usable {
			t.Fatalf("expected usable credentials, got %v %v", usable, err)
		}
		_, err = facade.ListEvents(ctx, 42, 0)
		return err
	})
	if err != nil {
		t.Fatalf("post-authorization checks failed: %v", err)
	}
	if got := environment.google.lastAuthorization(); got != "Bearer fake-access" {
		t.Fatalf("expected calendar call with fake-access, got %q", got)
	}

	err = environment.withFacade(t, func(facade *Facade) error {
		_, err := facade.HandleCallback(ctx, "fakecode", state)
		return err
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected replayed state to be rejected, got %v", err)
	}

	err = environment.withFacade(t, func(facade *Facade) error {
		revoked, err := facade.RevokeAccess(ctx, 42)
		if err != nil || !revoked {
			t.Fatalf("expected revoke to succeed, got %v %v", revoked, err)
		}
		if facade.IsAuthorized(ctx, 42) {
			t.Fatalf("expected chat to lose authorization")
		}
		revoked, err = facade.RevokeAccess(ctx, 404)
		if err != nil || revoked {
			t.Fatalf("expected unknown chat revoke to report false, got %v %v", revoked, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	exchanges := environment.metrics.Calls(CallCodeExchange)
	if exchanges.Calls != 1 || exchanges.Failures != 0 || environment.metrics.Count(MetricAccessRevoked) != 1 {
		t.Fatalf("unexpected metrics %v", environment.metrics.Snapshot())
	}
}

func TestHandleCallbackRejectsInvalidState(t *testing.T) {
	environment := newTestEnvironment(t)
	ctx := context.Background()
	state, _ := issueState(t, environment, 42)

	forged, _, err := MintStateToken(environment.clock, 42, DefaultStateIssuer, []byte("another-key"), time.Minute)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	foreign, _, err := MintStateToken(environment.clock, 7, DefaultStateIssuer, []byte("state-signing-key"), time.Minute)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	testCases := []struct {
		name  string
		code  string
		state string
	}{
		{name: "missing code", code: "", state: state},
		{name: "missing state", code: "fakecode", state: ""},
		{name: "forged signature", code: "fakecode", state: forged},
		{name: "valid signature unknown to store", code: "fakecode", state: foreign},
	}
	for _, testCase := range testCases {
		err := environment.withFacade(t, func(facade *Facade) error {
			_, err := facade.HandleCallback(ctx, testCase.code, testCase.state)
			return err
		})
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%s: expected ErrInvalidState, got %v", testCase.name, err)
		}
	}
	if environment.google.exchangeCalls.Load() != 0 {
		t.Fatalf("expected no code exchange for rejected callbacks")
	}

	environment.clock.Advance(DefaultStateTTL + time.Second)
	err = environment.withFacade(t, func(facade *Facade) error {
		_, err := facade.HandleCallback(ctx, "fakecode", state)
		return err
	})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected expired state to be rejected, got %v", err)
	}
}

func TestExchangeCodeFailures(t *testing.T) {
	environment := newTestEnvironment(t)
	ctx := context.Background()
	environment.seedUser(t, 42, store.TokenInput{})

	err := environment.withFacade(t, func(facade *Facade) error {
		return facade.ExchangeCode(ctx, 42, "wrong-code")
	})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if stats := environment.metrics.Calls(CallCodeExchange); stats.Calls != 1 || stats.Failures != 1 {
		t.Fatalf("expected one failed exchange, got %+v", stats)
	}

	err = environment.withFacade(t, func(facade *Facade) error {
		return facade.ExchangeCode(ctx, 99, "fakecode")
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected unknown user, got %v", err)
	}

	err = environment.withFacade(t, func(facade *Facade) error {
		return facade.ExchangeCode(ctx, 42, "  ")
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected empty code to be rejected, got %v", err)
	}
}

func TestExchangeCodeClearsStateWithoutIdentity(t *testing.T) {
	environment := newTestEnvironment(t)
	ctx := context.Background()
	issueState(t, environment, 42)

	err := environment.withFacade(t, func(facade *Facade) error {
		if err := facade.ExchangeCode(ctx, 42, "fakecode"); err != nil {
			return err
		}
		user := environment.storedUser(t, 42)
		if user.ProviderID != nil {
			t.Fatalf("expected consumed state to be cleared, got %q", *user.ProviderID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
}

func TestExchangeCodeKeepsProviderIDUnique(t *testing.T) {
	environment := newTestEnvironment(t, WithIdentityValidator(identityFor("shared-sub", "person@example.com")))
	ctx := context.Background()
	environment.seedUser(t, 1, store.TokenInput{})
	environment.seedUser(t, 2, store.TokenInput{})

	err := environment.withFacade(t, func(facade *Facade) error {
		if err := facade.ExchangeCode(ctx, 1, "fakecode"); err != nil {
			return err
		}
		if err := facade.ExchangeCode(ctx, 2, "fakecode"); err != nil {
			return err
		}
		first := environment.storedUser(t, 1)
		second := environment.storedUser(t, 2)
		if first.ProviderID == nil || *first.ProviderID != "shared-sub" {
			t.Fatalf("expected first chat to own the subject, got %v", first.ProviderID)
		}
		if second.ProviderID != nil {
			t.Fatalf("expected second chat to stay unlinked, got %q", *second.ProviderID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
}
