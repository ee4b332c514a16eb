// Package archive persists a session's transcript and advisory logs to
// PostgreSQL.
//
// The archive is a passive observer: [Archive.Run] subscribes to the session
// store, writes every appended entry and item, and deletes a session's rows
// when the store clears the matching log. Writes are idempotent per
// (session_id, id). After the store dropped a slow subscriber the archive
// replays the new snapshot and deletes rows the snapshot no longer holds.
// Write failures are logged and never reach the analysis pipeline.
//
// Usage:
//
//	a, err := archive.Open(ctx, dsn, "interview-42")
//	if err != nil { … }
//	defer a.Close()
//	_ = a.Restore(ctx, store)
//	go a.Run(ctx, store)
package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/cuecard/internal/session"
	"github.com/MrWong99/cuecard/pkg/interview"
)

// DB is the subset of [pgxpool.Pool] the archive uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// Archive writes one session's logs to PostgreSQL. All methods are safe for
// concurrent use.
type Archive struct {
	db        DB
	pool      *pgxpool.Pool
	sessionID string
}

// New wraps an existing connection. The schema is assumed to exist; call
// [Migrate] first when it may not.
func New(db DB, sessionID string) *Archive {
	return &Archive{db: db, sessionID: sessionID}
}

// Open connects to the database at dsn, verifies the connection and runs
// [Migrate].
func Open(ctx context.Context, dsn, sessionID string) (*Archive, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("archive: session id must not be empty")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Archive{db: pool, pool: pool, sessionID: sessionID}, nil
}

// SessionID returns the session key rows are written under.
func (a *Archive) SessionID() string { return a.sessionID }

// Ping checks database connectivity.
func (a *Archive) Ping(ctx context.Context) error {
	if a.pool != nil {
		return a.pool.Ping(ctx)
	}
	_, err := a.db.Exec(ctx, "SELECT 1")
	return err
}

// Close releases the connection pool opened by [Open]. It is a no-op for
// archives created with [New].
func (a *Archive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// WriteTranscript stores e. Writing an id twice is a no-op.
func (a *Archive) WriteTranscript(ctx context.Context, e interview.TranscriptEntry) error {
	const q = `
		INSERT INTO transcript_entries (session_id, id, speaker, text, ts_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, id) DO NOTHING`

	if _, err := a.db.Exec(ctx, q, a.sessionID, e.ID, string(e.Speaker), e.Text, e.Timestamp); err != nil {
		return fmt.Errorf("archive: write transcript: %w", err)
	}
	return nil
}

// WriteResponse stores item. Writing an id twice is a no-op.
func (a *Archive) WriteResponse(ctx context.Context, item interview.AdvisoryItem) error {
	const q = `
		INSERT INTO advisory_items (session_id, id, type, content, confidence, ts_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, id) DO NOTHING`

	if _, err := a.db.Exec(ctx, q, a.sessionID, item.ID, string(item.Type), item.Content, item.Confidence, item.Timestamp); err != nil {
		return fmt.Errorf("archive: write response: %w", err)
	}
	return nil
}

// Archived log tables.
const (
	transcriptTable = "transcript_entries"
	responseTable   = "advisory_items"
)

// ClearTranscripts deletes every archived transcript entry of the session.
func (a *Archive) ClearTranscripts(ctx context.Context) error {
	return a.prune(ctx, transcriptTable, nil)
}

// ClearResponses deletes every archived advisory item of the session.
func (a *Archive) ClearResponses(ctx context.Context) error {
	return a.prune(ctx, responseTable, nil)
}

// prune deletes the session's rows in table whose id is not in keep.
func (a *Archive) prune(ctx context.Context, table string, keep []string) error {
	var err error
	if len(keep) == 0 {
		_, err = a.db.Exec(ctx, "DELETE FROM "+table+" WHERE session_id = $1", a.sessionID)
	} else {
		_, err = a.db.Exec(ctx, "DELETE FROM "+table+" WHERE session_id = $1 AND NOT (id = ANY($2))", a.sessionID, keep)
	}
	if err != nil {
		return fmt.Errorf("archive: prune %s: %w", table, err)
	}
	return nil
}

// Transcripts returns the archived transcript entries in insertion order.
func (a *Archive) Transcripts(ctx context.Context) ([]interview.TranscriptEntry, error) {
	const q = `
		SELECT id, speaker, text, ts_ms
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := a.db.Query(ctx, q, a.sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: query transcripts: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (interview.TranscriptEntry, error) {
		var (
			e       interview.TranscriptEntry
			speaker string
		)
		if err := row.Scan(&e.ID, &speaker, &e.Text, &e.Timestamp); err != nil {
			return interview.TranscriptEntry{}, err
		}
		e.Speaker = interview.Speaker(speaker)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan transcripts: %w", err)
	}
	return entries, nil
}

// Responses returns the archived advisory items in insertion order.
func (a *Archive) Responses(ctx context.Context) ([]interview.AdvisoryItem, error) {
	const q = `
		SELECT id, type, content, confidence, ts_ms
		FROM   advisory_items
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := a.db.Query(ctx, q, a.sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: query responses: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (interview.AdvisoryItem, error) {
		var (
			it  interview.AdvisoryItem
			typ string
		)
		if err := row.Scan(&it.ID, &typ, &it.Content, &it.Confidence, &it.Timestamp); err != nil {
			return interview.AdvisoryItem{}, err
		}
		it.Type = interview.AdvisoryType(typ)
		return it, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan responses: %w", err)
	}
	return items, nil
}

// Restore loads the archived logs of this session into an empty store, so a
// restarted process resumes where it stopped. A store that already holds
// entries is left untouched.
func (a *Archive) Restore(ctx context.Context, store *session.Store) error {
	if len(store.Transcripts()) > 0 || len(store.Responses()) > 0 {
		return nil
	}
	entries, err := a.Transcripts(ctx)
	if err != nil {
		return err
	}
	items, err := a.Responses(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := store.AddTranscript(e); err != nil {
			slog.Warn("archive: skipping invalid transcript entry", "id", e.ID, "err", err)
		}
	}
	for _, it := range items {
		if err := store.AddAIResponse(it); err != nil {
			slog.Warn("archive: skipping invalid advisory item", "id", it.ID, "err", err)
		}
	}
	slog.Info("archive: session restored", "session_id", a.sessionID, "transcripts", len(entries), "responses", len(items))
	return nil
}

// Run mirrors store into the archive until ctx is cancelled. It always
// returns nil after cancellation; write failures are logged.
//
// The first snapshot is only written, since the store is expected to have
// been restored from the archive. Later snapshots also prune rows cleared
// while the archive was resubscribing.
func (a *Archive) Run(ctx context.Context, store *session.Store) error {
	for resync := false; ; resync = true {
		snap, changes, cancel := store.Subscribe()
		a.writeSnapshot(ctx, snap)
		if resync {
			a.reconcile(ctx, snap)
		}

		dropped := a.drain(ctx, changes)
		cancel()
		if !dropped {
			return nil
		}
		slog.Warn("archive: fell behind the session store, resynchronizing", "session_id", a.sessionID)
	}
}

// drain writes changes until ctx ends (false) or the store closes the
// channel (true).
func (a *Archive) drain(ctx context.Context, changes <-chan session.Change) (dropped bool) {
	for {
		select {
		case <-ctx.Done():
			return false
		case c, ok := <-changes:
			if !ok {
				return true
			}
			a.apply(ctx, c)
		}
	}
}

func (a *Archive) apply(ctx context.Context, c session.Change) {
	switch c.Kind {
	case session.ChangeTranscriptAdded:
		if err := a.WriteTranscript(ctx, *c.Transcript); err != nil {
			slog.Error("archive: write failed", "kind", c.Kind, "id", c.Transcript.ID, "err", err)
		}
	case session.ChangeResponseAdded:
		if err := a.WriteResponse(ctx, *c.Response); err != nil {
			slog.Error("archive: write failed", "kind", c.Kind, "id", c.Response.ID, "err", err)
		}
	case session.ChangeTranscriptsCleared:
		if err := a.ClearTranscripts(ctx); err != nil {
			slog.Error("archive: clear failed", "kind", c.Kind, "err", err)
		}
	case session.ChangeResponsesCleared:
		if err := a.ClearResponses(ctx); err != nil {
			slog.Error("archive: clear failed", "kind", c.Kind, "err", err)
		}
	}
}

// reconcile deletes archived rows that snap no longer holds.
func (a *Archive) reconcile(ctx context.Context, snap session.Snapshot) {
	tids := make([]string, len(snap.Transcripts))
	for i, e := range snap.Transcripts {
		tids[i] = e.ID
	}
	rids := make([]string, len(snap.Responses))
	for i, it := range snap.Responses {
		rids[i] = it.ID
	}
	if err := a.prune(ctx, transcriptTable, tids); err != nil {
		slog.Error("archive: reconcile failed", "err", err)
	}
	if err := a.prune(ctx, responseTable, rids); err != nil {
		slog.Error("archive: reconcile failed", "err", err)
	}
}

func (a *Archive) writeSnapshot(ctx context.Context, snap session.Snapshot) {
	for _, e := range snap.Transcripts {
		if err := a.WriteTranscript(ctx, e); err != nil {
			slog.Error("archive: write failed", "id", e.ID, "err", err)
		}
	}
	for _, it := range snap.Responses {
		if err := a.WriteResponse(ctx, it); err != nil {
			slog.Error("archive: write failed", "id", it.ID, "err", err)
		}
	}
}
