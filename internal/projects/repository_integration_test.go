//go:build integration

package projects_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmerrifield20/projectledger/internal/projects"
)

func TestRepository_Exists(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS projects (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create projects table: %v", err)
	}
	id := uuid.NewString()
	if _, err := db.Exec(ctx, `INSERT INTO projects (id) VALUES ($1)`, id); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Exec(context.Background(), `DELETE FROM projects WHERE id = $1`, id) })

	repo := projects.NewRepository(db)
	ok, err := repo.Exists(ctx, id)
	if err != nil || !ok {
		t.Errorf("Exists(%s) = %v, %v; want true", id, ok, err)
	}
	ok, err = repo.Exists(ctx, uuid.NewString())
	if err != nil || ok {
		t.Errorf("Exists(random) = %v, %v; want false", ok, err)
	}
}
