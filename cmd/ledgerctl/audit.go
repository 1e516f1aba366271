package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/projectledger/internal/ledger"
)

type auditStore interface {
	ledger.Store
	ledger.ProjectLister
}

func newAuditCmd() *cobra.Command {
	var (
		backend     string
		path        string
		dbURL       string
		concurrency int
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify every project chain directly in a store",
		Long: `Audit opens a ledger store without going through ledgerd and verifies
every project's chain. Use it on a backup or a stopped node.

  ledgerctl audit --backend sqlite --path data/ledger.db
  ledgerctl audit --backend postgres --database-url postgres://...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			logger := zap.NewNop()
			store, closeStore, err := openAuditStore(ctx, backend, path, dbURL, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			auditor := ledger.NewAuditor(store, ledger.NewReader(store, logger), concurrency, logger)
			report, err := auditor.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "checked %d project(s) in %s\n", report.Projects, report.Duration.Round(time.Millisecond))
			for _, id := range report.BrokenIDs() {
				res := report.Broken[id]
				fmt.Fprintf(out(cmd), "  BROKEN %s at %s (seq %d): %s\n", id, res.BrokenAt, res.BrokenSeq, res.Reason)
			}
			if len(report.Broken) > 0 {
				return errChainBroken
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "sqlite", "store backend: postgres, sqlite or badger")
	cmd.Flags().StringVar(&path, "path", "data/ledger.db", "sqlite file or badger directory")
	cmd.Flags().StringVar(&dbURL, "database-url", "", "postgres connection URL")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "projects verified in parallel")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline")
	return cmd
}

func openAuditStore(ctx context.Context, backend, path, dbURL string, logger *zap.Logger) (auditStore, func(), error) {
	switch backend {
	case "sqlite":
		s, err := ledger.OpenSQLite(ctx, path, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "badger":
		s, err := ledger.OpenBadger(ledger.BadgerConfig{Path: path}, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		if dbURL == "" {
			return nil, nil, fmt.Errorf("--database-url is required for postgres")
		}
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return ledger.NewPostgresStore(pool, logger), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want postgres, sqlite or badger)", backend)
	}
}
