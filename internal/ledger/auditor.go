package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SweepReport summarises one Auditor sweep.
type SweepReport struct {
	Projects int                      `json:"projects"`
	Broken   map[string]*VerifyResult `json:"broken,omitempty"`
	Started  time.Time                `json:"started"`
	Duration time.Duration            `json:"duration"`
}

// BrokenIDs returns the ids of projects with a broken chain, sorted.
func (r *SweepReport) BrokenIDs() []string {
	ids := make([]string, 0, len(r.Broken))
	for id := range r.Broken {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SweepObserver is an optional callback run after every sweep.
type SweepObserver func(report *SweepReport)

// Auditor periodically verifies every chain in a store.
type Auditor struct {
	lister      ProjectLister
	reader      *Reader
	concurrency int
	onSweep     SweepObserver
	logger      *zap.Logger
}

// NewAuditor creates an Auditor. concurrency bounds the number of chains
// verified in parallel and defaults to 4.
func NewAuditor(lister ProjectLister, reader *Reader, concurrency int, logger *zap.Logger) *Auditor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Auditor{lister: lister, reader: reader, concurrency: concurrency, logger: logger}
}

// SetSweepObserver configures the post-sweep callback.
func (a *Auditor) SetSweepObserver(fn SweepObserver) {
	a.onSweep = fn
}

// Sweep verifies every project once. Storage errors abort the sweep; broken
// chains do not.
func (a *Auditor) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{Broken: map[string]*VerifyResult{}, Started: time.Now().UTC()}

	projects, err := a.lister.Projects(ctx)
	if err != nil {
		return nil, persistence("list projects", err)
	}
	report.Projects = len(projects)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, id := range projects {
		g.Go(func() error {
			res, err := a.reader.VerifyIntegrity(gctx, id)
			if err != nil {
				return fmt.Errorf("verify %s: %w", id, err)
			}
			if !res.Valid {
				mu.Lock()
				report.Broken[id] = res
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Duration = time.Since(report.Started)

	if a.onSweep != nil {
		a.onSweep(report)
	}
	if len(report.Broken) > 0 {
		a.logger.Warn("ledger audit found broken chains",
			zap.Int("projects", report.Projects),
			zap.Strings("broken", report.BrokenIDs()),
		)
	} else {
		a.logger.Info("ledger audit passed",
			zap.Int("projects", report.Projects),
			zap.Duration("duration", report.Duration),
		)
	}
	return report, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (a *Auditor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Sweep(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("ledger audit sweep error", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
