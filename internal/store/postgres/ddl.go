package postgres

import (
	"context"
	"database/sql"
)

// Schema is the full DDL for the engine's relational state. Statements are
// idempotent so EnsureSchema can run at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS owners (
    owner_id        TEXT PRIMARY KEY,
    time_zone       TEXT NOT NULL DEFAULT 'UTC',
    embed_provider  TEXT NOT NULL DEFAULT '',
    embed_model     TEXT NOT NULL DEFAULT '',
    embed_dimension INT  NOT NULL DEFAULT 0,
    creation_time   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
    owner_id      TEXT NOT NULL,
    stream_id     TEXT NOT NULL,
    seq           BIGINT NOT NULL,
    role          TEXT NOT NULL,
    content       TEXT NOT NULL,
    creation_time TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (owner_id, stream_id, seq)
);

CREATE TABLE IF NOT EXISTS segments (
    owner_id      TEXT NOT NULL,
    segment_id    TEXT NOT NULL,
    stream_id     TEXT NOT NULL,
    day           TEXT NOT NULL,
    first_seq     BIGINT NOT NULL,
    last_seq      BIGINT,
    summary       TEXT NOT NULL DEFAULT '',
    covered_until BIGINT NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'open',
    marker        BIGINT NOT NULL DEFAULT 0,
    update_time   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (owner_id, segment_id),
    UNIQUE (owner_id, stream_id, day)
);

CREATE TABLE IF NOT EXISTS chunks (
    owner_id      TEXT NOT NULL,
    chunk_id      TEXT NOT NULL,
    stream_id     TEXT NOT NULL,
    segment_id    TEXT NOT NULL,
    start_seq     BIGINT NOT NULL,
    end_seq       BIGINT NOT NULL,
    text          TEXT NOT NULL,
    hash          TEXT NOT NULL,
    token_count   INT NOT NULL,
    creation_time TIMESTAMPTZ NOT NULL DEFAULT now(),
    update_time   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (owner_id, chunk_id),
    UNIQUE (owner_id, stream_id, start_seq, end_seq)
);
CREATE INDEX IF NOT EXISTS idx_chunks_segment ON chunks (owner_id, segment_id);

CREATE TABLE IF NOT EXISTS embedding_records (
    owner_id    TEXT NOT NULL,
    target_kind TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    provider    TEXT NOT NULL DEFAULT '',
    model       TEXT NOT NULL DEFAULT '',
    dimension   INT  NOT NULL DEFAULT 0,
    vector      JSONB,
    status      TEXT NOT NULL DEFAULT 'pending',
    error_msg   TEXT NOT NULL DEFAULT '',
    update_time TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (owner_id, target_kind, target_id)
);
CREATE INDEX IF NOT EXISTS idx_embedding_status ON embedding_records (owner_id, status);

CREATE TABLE IF NOT EXISTS jobs (
    id              BIGSERIAL PRIMARY KEY,
    kind            TEXT NOT NULL,
    key             TEXT NOT NULL,
    payload         JSONB NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempt_count   INT NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    creation_time   TIMESTAMPTZ NOT NULL DEFAULT now(),
    update_time     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_ready ON jobs (status, next_attempt_at);
`

// EnsureSchema applies the schema. Safe to call on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
