package postgres

// schema is applied once at startup. It is idempotent (IF NOT EXISTS
// throughout) so the bridge can be pointed at an existing database without
// a separate migration step.
const schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id                   BIGSERIAL PRIMARY KEY,
	org_id               TEXT NOT NULL UNIQUE,
	display_name         TEXT NOT NULL,
	zulip_site_url       TEXT NOT NULL,
	bot_email            TEXT NOT NULL,
	api_key              TEXT NOT NULL,
	connected            BOOLEAN NOT NULL DEFAULT FALSE,
	max_backfill_amount  INTEGER NOT NULL DEFAULT 100,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS room_mappings (
	id                  BIGSERIAL PRIMARY KEY,
	matrix_room_id      TEXT NOT NULL UNIQUE,
	organization_id     TEXT NOT NULL,
	zulip_stream_id     BIGINT NOT NULL,
	zulip_topic         TEXT,
	zulip_stream_name   TEXT NOT NULL,
	room_type           TEXT NOT NULL CHECK (room_type IN ('stream', 'direct', 'topic')),
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (organization_id, zulip_stream_id, zulip_topic)
);
-- Postgres treats NULL as distinct for the UNIQUE constraint above, so it
-- does not block two per-stream (zulip_topic IS NULL) rooms for the same
-- (organization_id, zulip_stream_id). Enforce that case with a partial index.
CREATE UNIQUE INDEX IF NOT EXISTS room_mappings_stream_wide_idx
	ON room_mappings (organization_id, zulip_stream_id)
	WHERE zulip_topic IS NULL;

CREATE TABLE IF NOT EXISTS user_mappings (
	id               BIGSERIAL PRIMARY KEY,
	matrix_user_id   TEXT NOT NULL UNIQUE,
	zulip_user_id    BIGINT NOT NULL UNIQUE,
	email            TEXT,
	display_name     TEXT,
	avatar_url       TEXT,
	is_bot           BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS message_mappings (
	id                 BIGSERIAL PRIMARY KEY,
	matrix_event_id    TEXT NOT NULL UNIQUE,
	zulip_message_id   BIGINT NOT NULL UNIQUE,
	matrix_room_id     TEXT NOT NULL,
	zulip_sender_id    BIGINT NOT NULL,
	message_type       TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS message_mappings_room_idx ON message_mappings (matrix_room_id, created_at);

CREATE TABLE IF NOT EXISTS reaction_mappings (
	id                          BIGSERIAL PRIMARY KEY,
	matrix_reaction_event_id    TEXT NOT NULL UNIQUE,
	zulip_reaction_id           BIGINT NOT NULL UNIQUE,
	zulip_message_id            BIGINT NOT NULL,
	matrix_event_id             TEXT NOT NULL,
	emoji                       TEXT NOT NULL,
	created_at                  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS reaction_mappings_message_idx ON reaction_mappings (zulip_message_id);

CREATE TABLE IF NOT EXISTS processed_events (
	id            BIGSERIAL PRIMARY KEY,
	event_id      TEXT NOT NULL,
	source        TEXT NOT NULL CHECK (source IN ('matrix', 'zulip')),
	event_type    TEXT NOT NULL,
	processed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (event_id, source)
);
CREATE INDEX IF NOT EXISTS processed_events_processed_at_idx ON processed_events (processed_at);
`
