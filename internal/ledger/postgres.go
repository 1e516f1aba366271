package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const pgEventColumns = `id, project_id, seq, event_type, event_data, event_timestamp, created_by, previous_hash, current_hash`

// PostgresStore persists project chains to the project_events table
// (see migrations/001_project_events.up.sql). It implements Store and ProjectLister.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// FindTip implements Store.
func (s *PostgresStore) FindTip(ctx context.Context, projectID string) (*Event, error) {
	e, err := scanPgEvent(s.pool.QueryRow(ctx,
		`SELECT `+pgEventColumns+` FROM project_events
		 WHERE project_id = $1 ORDER BY seq DESC LIMIT 1`, projectID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}
	return e, nil
}

// Append implements Store.
// It takes a transaction-scoped advisory lock keyed by the project, re-reads
// the tip, and inserts the event only if it still links to that tip. Appends
// to different projects hash to different lock keys and do not wait on each other.
func (s *PostgresStore) Append(ctx context.Context, event *Event) (*Event, error) {
	if err := event.validate(); err != nil {
		return nil, persistence("append", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", event.ProjectID); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var tipSeq int64
	tipHash := GenesisHash
	err = tx.QueryRow(ctx,
		`SELECT seq, current_hash FROM project_events
		 WHERE project_id = $1 ORDER BY seq DESC LIMIT 1`, event.ProjectID,
	).Scan(&tipSeq, &tipHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}
	if event.PreviousHash != tipHash {
		return nil, fmt.Errorf("%w: project %s tip moved", ErrConcurrencyConflict, event.ProjectID)
	}

	stored := event.clone()
	stored.Seq = tipSeq + 1
	if _, err := tx.Exec(ctx,
		`INSERT INTO project_events (`+pgEventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		stored.ID, stored.ProjectID, stored.Seq, stored.EventType, string(stored.Data),
		stored.Timestamp, stored.CreatedBy, stored.PreviousHash, stored.CurrentHash,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.ConstraintName)
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit event tx: %w", err)
	}

	s.logger.Debug("project event stored",
		zap.String("project_id", stored.ProjectID),
		zap.Int64("seq", stored.Seq),
	)
	return stored, nil
}

// FindAll implements Store. It is O(n) in chain length.
func (s *PostgresStore) FindAll(ctx context.Context, projectID string) ([]*Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgEventColumns+` FROM project_events
		 WHERE project_id = $1 ORDER BY seq ASC`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanPgEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Projects implements ProjectLister.
func (s *PostgresStore) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT project_id FROM project_events ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPgEvent(row pgx.Row) (*Event, error) {
	e := &Event{}
	var data string
	if err := row.Scan(
		&e.ID, &e.ProjectID, &e.Seq, &e.EventType, &data,
		&e.Timestamp, &e.CreatedBy, &e.PreviousHash, &e.CurrentHash,
	); err != nil {
		return nil, err
	}
	e.Data = json.RawMessage(data)
	return e, nil
}
