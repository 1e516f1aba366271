// Package projects looks up projects owned by the project service. The
// ledger never writes here; it only asks whether an id is known.
package projects

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the externally managed projects table.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Exists reports whether a project with the given id exists.
func (r *Repository) Exists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE id::text = $1)`, projectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check project %s: %w", projectID, err)
	}
	return exists, nil
}
