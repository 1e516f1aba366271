package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type failingLister struct{}

func (failingLister) Projects(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestAuditor_sweepReportsBrokenChains(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := NewWriter(store, nil, zap.NewNop())
	for _, id := range []string{"a", "b", "c", "d"} {
		for i := 0; i < 3; i++ {
			if _, err := w.CreateEvent(ctx, id, EventProgressUpdate, map[string]any{"progress": i}, "u"); err != nil {
				t.Fatal(err)
			}
		}
	}
	tamper(store, "b", 2, func(e *Event) { e.Data = json.RawMessage(`{"progress":99}`) })
	tamper(store, "d", 3, func(e *Event) { e.PreviousHash = GenesisHash })

	var observed *SweepReport
	a := NewAuditor(store, NewReader(store, zap.NewNop()), 2, zap.NewNop())
	a.SetSweepObserver(func(r *SweepReport) { observed = r })

	report, err := a.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Projects != 4 {
		t.Errorf("Projects: got %d, want 4", report.Projects)
	}
	ids := report.BrokenIDs()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "d" {
		t.Errorf("BrokenIDs: got %v", ids)
	}
	if report.Broken["b"].Reason != ReasonHashMismatch || report.Broken["d"].Reason != ReasonBrokenLink {
		t.Errorf("reasons: b=%q d=%q", report.Broken["b"].Reason, report.Broken["d"].Reason)
	}
	if observed != report {
		t.Error("sweep observer not called with the report")
	}
}

func TestAuditor_listErrorAbortsSweep(t *testing.T) {
	a := NewAuditor(failingLister{}, NewReader(NewMemoryStore(), zap.NewNop()), 0, zap.NewNop())
	if a.concurrency != 4 {
		t.Errorf("default concurrency: got %d", a.concurrency)
	}
	_, err := a.Sweep(context.Background())
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
}

func TestAuditor_runSweepsUntilCancelled(t *testing.T) {
	store := NewMemoryStore()
	sweeps := make(chan struct{}, 8)
	a := NewAuditor(store, NewReader(store, zap.NewNop()), 1, zap.NewNop())
	a.SetSweepObserver(func(*SweepReport) {
		select {
		case sweeps <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-sweeps:
		case <-time.After(time.Second):
			t.Fatalf("sweep %d did not happen", i+1)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
