package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS project_events (
		id              TEXT    PRIMARY KEY,
		project_id      TEXT    NOT NULL,
		seq             INTEGER NOT NULL CHECK (seq > 0),
		event_type      TEXT    NOT NULL,
		event_data      TEXT    NOT NULL,
		event_timestamp TEXT    NOT NULL,
		created_by      TEXT    NOT NULL,
		previous_hash   TEXT    NOT NULL,
		current_hash    TEXT    NOT NULL,
		UNIQUE (project_id, seq),
		UNIQUE (project_id, previous_hash)
	)`,
	`CREATE TRIGGER IF NOT EXISTS project_events_no_update
		BEFORE UPDATE ON project_events
		BEGIN SELECT RAISE(ABORT, 'project_events is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS project_events_no_delete
		BEFORE DELETE ON project_events
		BEGIN SELECT RAISE(ABORT, 'project_events is append-only'); END`,
}

const sqlEventColumns = `id, project_id, seq, event_type, event_data, event_timestamp, created_by, previous_hash, current_hash`

// SQLStore implements Store and ProjectLister on database/sql. It is used
// with SQLite (modernc.org/sqlite) for single-node deployments.
type SQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) a SQLite database at path and
// returns a ready SQLStore. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: SQLite allows a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	s := NewSQLStore(db, logger)
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing database handle. Call Init to create the schema.
func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

// Init creates the table and the append-only triggers if they are missing.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// FindTip implements Store.
func (s *SQLStore) FindTip(ctx context.Context, projectID string) (*Event, error) {
	e, err := scanSQLEvent(s.db.QueryRowContext(ctx,
		`SELECT `+sqlEventColumns+` FROM project_events
		 WHERE project_id = ? ORDER BY seq DESC LIMIT 1`, projectID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}
	return e, nil
}

// Append implements Store. The tip check and insert share one transaction;
// the unique (project_id, previous_hash) constraint rejects a fork even if
// two transactions race past the check.
func (s *SQLStore) Append(ctx context.Context, event *Event) (*Event, error) {
	if err := event.validate(); err != nil {
		return nil, persistence("append", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var tipSeq int64
	tipHash := GenesisHash
	err = tx.QueryRowContext(ctx,
		`SELECT seq, current_hash FROM project_events
		 WHERE project_id = ? ORDER BY seq DESC LIMIT 1`, event.ProjectID,
	).Scan(&tipSeq, &tipHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}
	if event.PreviousHash != tipHash {
		return nil, fmt.Errorf("%w: project %s tip moved", ErrConcurrencyConflict, event.ProjectID)
	}

	stored := event.clone()
	stored.Seq = tipSeq + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_events (`+sqlEventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID.String(), stored.ProjectID, stored.Seq, stored.EventType, string(stored.Data),
		stored.Timestamp, stored.CreatedBy, stored.PreviousHash, stored.CurrentHash,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit event tx: %w", err)
	}
	return stored, nil
}

// FindAll implements Store.
func (s *SQLStore) FindAll(ctx context.Context, projectID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlEventColumns+` FROM project_events
		 WHERE project_id = ? ORDER BY seq ASC`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]*Event, 0)
	for rows.Next() {
		e, err := scanSQLEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Projects implements ProjectLister.
func (s *SQLStore) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM project_events ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLEvent(row sqlScanner) (*Event, error) {
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
