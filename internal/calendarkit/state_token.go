package calendarkit

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateNonceByteLength = 16

var stateRandomSource = rand.Read

// StateClaims are embedded in the OAuth state parameter.
type StateClaims struct {
	ChatID int64 `json:"chat_id"`
	jwt.RegisteredClaims
}

// MintStateToken signs a state value bound to the chat id.
func MintStateToken(clock Clock, chatID int64, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	nonce := make([]byte, stateNonceByteLength)
	if _, err := stateRandomSource(nonce); err != nil {
		return "", time.Time{}, fmt.Errorf("calendar.state.random: %w", err)
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, StateClaims{
		ChatID: chatID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        base64.RawURLEncoding.EncodeToString(nonce),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("calendar.state.sign: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseStateToken verifies signature, issuer and expiry of a state value.
func ParseStateToken(clock Clock, state string, issuer string, signingKey []byte) (*StateClaims, error) {
	if strings.TrimSpace(state) == "" {
		return nil, fmt.Errorf("calendar.state.parse: %w", ErrInvalidState)
	}
	claims := &StateClaims{}
	parsed, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (interface{}, error) {
		return signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("calendar.state.expired: %w", ErrInvalidState)
		}
		return nil, fmt.Errorf("calendar.state.parse: %w", ErrInvalidState)
	}
	if !parsed.Valid || claims.ChatID == 0 {
		return nil, fmt.Errorf("calendar.state.parse: %w", ErrInvalidState)
	}
	return claims, nil
}
