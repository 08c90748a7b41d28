package store

import "errors"

var (
	// ErrNotFound indicates that no row matched the lookup.
	ErrNotFound = errors.New("store.not_found")
	// ErrDuplicate indicates a write that violates a uniqueness constraint.
	ErrDuplicate = errors.New("store.duplicate")
	// ErrInvalidChatID indicates a zero chat id on insert.
	ErrInvalidChatID = errors.New("store.invalid_chat_id")
	// ErrEmptyAccessToken indicates a token upsert without an access token.
	ErrEmptyAccessToken = errors.New("store.empty_access_token")
	// ErrEmptyDatabaseURL indicates that the backend was opened without a URL.
	ErrEmptyDatabaseURL = errors.New("store.empty_database_url")
)
