package archive

import (
	"context"
	"fmt"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    seq          BIGSERIAL    NOT NULL,
    session_id   TEXT         NOT NULL,
    id           TEXT         NOT NULL,
    speaker      TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    ts_ms        BIGINT       NOT NULL,
    archived_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_seq
    ON transcript_entries (session_id, seq);
`

const ddlAdvisoryItems = `
CREATE TABLE IF NOT EXISTS advisory_items (
    seq          BIGSERIAL         NOT NULL,
    session_id   TEXT              NOT NULL,
    id           TEXT              NOT NULL,
    type         TEXT              NOT NULL,
    content      TEXT              NOT NULL,
    confidence   DOUBLE PRECISION  NOT NULL,
    ts_ms        BIGINT            NOT NULL,
    archived_at  TIMESTAMPTZ       NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_advisory_items_session_seq
    ON advisory_items (session_id, seq);

CREATE INDEX IF NOT EXISTS idx_advisory_items_type
    ON advisory_items (type);
`

// Migrate creates the archive tables if they do not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range []string{ddlTranscriptEntries, ddlAdvisoryItems} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("archive: migrate: %w", err)
		}
	}
	return nil
}
