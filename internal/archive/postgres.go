// Package archive persists finished calls to PostgreSQL.
//
// Each call becomes one row in the calls table plus one row per utterance in
// call_utterances, with a GIN full-text index over the utterance text so old
// conversations can be searched. The store holds a single [pgxpool.Pool] and
// is safe for concurrent use, though the call manager only archives one call
// at a time.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/talktome/internal/call"
)

// ErrNotFound is returned by [Store.Call] when no call with the given ID
// exists.
var ErrNotFound = errors.New("archive: call not found")

const ddl = `
CREATE TABLE IF NOT EXISTS calls (
    id         TEXT         PRIMARY KEY,
    goal       TEXT         NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ  NOT NULL,
    ended_at   TIMESTAMPTZ  NOT NULL,
    summary    TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at
    ON calls (started_at);

CREATE TABLE IF NOT EXISTS call_utterances (
    id        BIGSERIAL    PRIMARY KEY,
    call_id   TEXT         NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    position  INT          NOT NULL,
    speaker   TEXT         NOT NULL,
    text      TEXT         NOT NULL,
    spoken_at TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_utterances_call_id
    ON call_utterances (call_id, position);

CREATE INDEX IF NOT EXISTS idx_call_utterances_fts
    ON call_utterances USING GIN (to_tsvector('english', text));
`

// Migrate creates or ensures the archive tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Store is the PostgreSQL-backed call archive. It implements [call.Archiver].
type Store struct {
	pool *pgxpool.Pool
}

var _ call.Archiver = (*Store)(nil)

// New connects to the PostgreSQL database at dsn and runs [Migrate]. Close
// the returned store when done with it.
func New(ctx context.Context, dsn string) (*Store, error) {
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

	return &Store{pool: pool}, nil
}

// SaveCall implements [call.Archiver]. The call row and all utterances are
// written in a single transaction; re-saving an existing call ID replaces its
// summary and utterances.
func (s *Store) SaveCall(ctx context.Context, rec call.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertCall = `
		INSERT INTO calls (id, goal, started_at, ended_at, summary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET goal = EXCLUDED.goal, ended_at = EXCLUDED.ended_at, summary = EXCLUDED.summary`

	if _, err := tx.Exec(ctx, insertCall,
		rec.ID, rec.Goal, rec.StartedAt, rec.EndedAt, rec.Summary,
	); err != nil {
		return fmt.Errorf("archive: insert call: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM call_utterances WHERE call_id = $1`, rec.ID,
	); err != nil {
		return fmt.Errorf("archive: clear utterances: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"call_utterances"},
		[]string{"call_id", "position", "speaker", "text", "spoken_at"},
		pgx.CopyFromSlice(len(rec.Utterances), func(i int) ([]any, error) {
			u := rec.Utterances[i]
			return []any{rec.ID, i, string(u.Speaker), u.Text, u.At}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("archive: copy utterances: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// Call loads a single archived call with all its utterances. Returns
// [ErrNotFound] when the ID is unknown.
func (s *Store) Call(ctx context.Context, id string) (call.Record, error) {
	const q = `
		SELECT id, goal, started_at, ended_at, summary
		FROM   calls
		WHERE  id = $1`

	var rec call.Record
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID, &rec.Goal, &rec.StartedAt, &rec.EndedAt, &rec.Summary,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return call.Record{}, ErrNotFound
	}
	if err != nil {
		return call.Record{}, fmt.Errorf("archive: load call: %w", err)
	}

	const uq = `
		SELECT speaker, text, spoken_at
		FROM   call_utterances
		WHERE  call_id = $1
		ORDER  BY position`

	rows, err := s.pool.Query(ctx, uq, id)
	if err != nil {
		return call.Record{}, fmt.Errorf("archive: load utterances: %w", err)
	}
	rec.Utterances, err = collectUtterances(rows)
	if err != nil {
		return call.Record{}, err
	}
	return rec, nil
}

// RecentCalls returns up to limit calls ordered most recent first, without
// their utterances.
func (s *Store) RecentCalls(ctx context.Context, limit int) ([]call.Record, error) {
	const q = `
		SELECT id, goal, started_at, ended_at, summary
		FROM   calls
		ORDER  BY started_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: recent calls: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (call.Record, error) {
		var rec call.Record
		err := row.Scan(&rec.ID, &rec.Goal, &rec.StartedAt, &rec.EndedAt, &rec.Summary)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan calls: %w", err)
	}
	if recs == nil {
		recs = []call.Record{}
	}
	return recs, nil
}

// Match is one utterance returned by [Store.SearchUtterances].
type Match struct {
	CallID   string
	Speaker  call.Speaker
	Text     string
	SpokenAt time.Time
}

// SearchUtterances performs a full-text search over archived utterances. The
// query is passed to plainto_tsquery so no operator syntax is required.
func (s *Store) SearchUtterances(ctx context.Context, query string, limit int) ([]Match, error) {
	const q = `
		SELECT call_id, speaker, text, spoken_at
		FROM   call_utterances
		WHERE  to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		ORDER  BY spoken_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var (
			m       Match
			speaker string
		)
		if err := row.Scan(&m.CallID, &speaker, &m.Text, &m.SpokenAt); err != nil {
			return Match{}, err
		}
		m.Speaker = call.Speaker(speaker)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan matches: %w", err)
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

// collectUtterances scans pgx rows into utterance values.
func collectUtterances(rows pgx.Rows) ([]call.Utterance, error) {
	utts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (call.Utterance, error) {
		var (
			u       call.Utterance
			speaker string
		)
		if err := row.Scan(&speaker, &u.Text, &u.At); err != nil {
			return call.Utterance{}, err
		}
		u.Speaker = call.Speaker(speaker)
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan utterances: %w", err)
	}
	return utts, nil
}

// Ping verifies database connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
