package pgstore

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    chat_id BIGINT NOT NULL UNIQUE,
    nick TEXT NULL,
    email TEXT NULL,
    provider_id TEXT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const createTokensTable = `
CREATE TABLE IF NOT EXISTS tokens (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL UNIQUE REFERENCES users (id) ON DELETE CASCADE,
    access_token TEXT NOT NULL,
    refresh_token TEXT NULL,
    token_type TEXT NOT NULL DEFAULT 'Bearer',
    expiry TIMESTAMP NULL,
    scopes TEXT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const dropTokensTable = `DROP TABLE IF EXISTS tokens`

const dropUsersTable = `DROP TABLE IF EXISTS users`
