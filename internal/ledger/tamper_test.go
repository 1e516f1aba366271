package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// tamper edits a stored event in place, bypassing every store invariant.
func tamper(s *MemoryStore, projectID string, seq int64, mutate func(*Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(s.chains[projectID][seq-1])
}

func twoEventChain(t *testing.T) (*MemoryStore, *Reader, *Event, *Event) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	w := NewWriter(store, nil, zap.NewNop())

	a, err := w.CreateEvent(ctx, "P", EventProjectCreated, map[string]any{"budget": 50000}, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := w.CreateEvent(ctx, "P", EventProgressUpdate, map[string]any{"progress": 25}, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	return store, NewReader(store, zap.NewNop()), a, b
}

func TestVerifyIntegrity_editedDataBreaksAtThatEvent(t *testing.T) {
	store, r, a, b := twoEventChain(t)
	ctx := context.Background()

	if a.PreviousHash != GenesisHash {
		t.Fatalf("A.PreviousHash = %q", a.PreviousHash)
	}
	if b.PreviousHash != a.CurrentHash {
		t.Fatalf("B.PreviousHash = %q, want A.CurrentHash", b.PreviousHash)
	}
	res, err := r.VerifyIntegrity(ctx, "P")
	if err != nil || !res.Valid {
		t.Fatalf("untampered chain: %+v %v", res, err)
	}

	tamper(store, "P", 2, func(e *Event) { e.Data = json.RawMessage(`{"progress":99}`) })

	res, err = r.VerifyIntegrity(ctx, "P")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if res.BrokenAt == nil || *res.BrokenAt != b.ID {
		t.Errorf("BrokenAt: got %v, want %v", res.BrokenAt, b.ID)
	}
	if res.Reason != ReasonHashMismatch || res.Checked != 1 || res.BrokenSeq != 2 {
		t.Errorf("result: %+v", res)
	}
}

func TestVerifyIntegrity_detectsEverySingleFieldEdit(t *testing.T) {
	cases := []struct {
		name   string
		seq    int64
		mutate func(*Event)
		reason string
	}{
		{"data", 1, func(e *Event) { e.Data = json.RawMessage(`{"budget":1}`) }, ReasonHashMismatch},
		{"data whitespace only", 1, func(e *Event) { e.Data = json.RawMessage(`{ "budget": 50000 }`) }, ""},
		{"event type", 2, func(e *Event) { e.EventType = "PROJECT_CANCELLED" }, ReasonHashMismatch},
		{"timestamp", 2, func(e *Event) { e.Timestamp = "2020-01-01T00:00:00.000000000Z" }, ReasonHashMismatch},
		{"created by", 1, func(e *Event) { e.CreatedBy = "mallory" }, ReasonHashMismatch},
		{"previous hash", 2, func(e *Event) { e.PreviousHash = GenesisHash }, ReasonBrokenLink},
		{"current hash", 2, func(e *Event) { e.CurrentHash = GenesisHash }, ReasonHashMismatch},
		{"undecodable data", 2, func(e *Event) { e.Data = json.RawMessage(`{"progress":`) }, ReasonHashMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, r, a, b := twoEventChain(t)
			tamper(store, "P", tc.seq, tc.mutate)

			res, err := r.VerifyIntegrity(context.Background(), "P")
			if err != nil {
				t.Fatal(err)
			}
			if tc.reason == "" {
				// Canonicalisation absorbs formatting-only differences.
				if !res.Valid {
					t.Errorf("formatting-only edit reported as tampering: %+v", res)
				}
				return
			}
			want := a.ID
			if tc.seq == 2 {
				want = b.ID
			}
			if res.Valid || res.BrokenAt == nil || *res.BrokenAt != want {
				t.Errorf("expected break at %v, got %+v", want, res)
			}
			if res.Reason != tc.reason {
				t.Errorf("reason: got %q, want %q", res.Reason, tc.reason)
			}
		})
	}
}

func TestVerifyIntegrity_reportsEarliestBreak(t *testing.T) {
	store, r, a, _ := twoEventChain(t)
	tamper(store, "P", 1, func(e *Event) { e.CreatedBy = "mallory" })
	tamper(store, "P", 2, func(e *Event) { e.EventType = "X" })

	res, _ := r.VerifyIntegrity(context.Background(), "P")
	if res.BrokenAt == nil || *res.BrokenAt != a.ID {
		t.Errorf("expected earliest break at A, got %+v", res)
	}
}

func TestVerifyIntegrity_reorderIsDetected(t *testing.T) {
	store, r, _, b := twoEventChain(t)
	store.mu.Lock()
	chain := store.chains["P"]
	chain[0], chain[1] = chain[1], chain[0]
	store.mu.Unlock()

	res, _ := r.VerifyIntegrity(context.Background(), "P")
	if res.Valid || res.BrokenAt == nil || *res.BrokenAt != b.ID || res.Reason != ReasonBrokenLink {
		t.Errorf("reordered chain: %+v", res)
	}
}

func TestVerifyIntegrity_detectsIndistinguishableDoubleEdit(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, nil, zap.NewNop())
	r := NewReader(store, zap.NewNop())
	ctx := context.Background()

	e, err := w.CreateEvent(ctx, "P", EventProjectCreated, json.RawMessage(`{"budget":9007199254740992}`), "u")
	if err != nil {
		t.Fatal(err)
	}

	// 2^53+1 parses to the same double as the stored 2^53.
	tamper(store, "P", 1, func(ev *Event) { ev.Data = json.RawMessage(`{"budget":9007199254740993}`) })

	res, err := r.VerifyIntegrity(ctx, "P")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Reason != ReasonHashMismatch || res.BrokenAt == nil || *res.BrokenAt != e.ID {
		t.Errorf("expected hash_mismatch at %s, got %+v", e.ID, res)
	}
}

func TestGetTimeline_undecodableDataDegrades(t *testing.T) {
	store, r, _, _ := twoEventChain(t)
	tamper(store, "P", 1, func(e *Event) { e.Data = json.RawMessage(`not json`) })

	timeline, err := r.GetTimeline(context.Background(), "P")
	if err != nil {
		t.Fatalf("timeline must not fail on one bad payload: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(timeline))
	}
	if len(timeline[0].Data) != 0 {
		t.Errorf("bad payload should degrade to empty map, got %v", timeline[0].Data)
	}
	if timeline[1].Data["progress"] != float64(25) {
		t.Errorf("second entry: %v", timeline[1].Data)
	}
}

func TestMemoryStore_rejectsIncompleteEvent(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Append(context.Background(), &Event{ProjectID: "P"})
	if err == nil {
		t.Fatal("expected error for incomplete event")
	}
	if !errors.Is(err, ErrMissingField) || !errors.Is(err, ErrPersistence) {
		t.Errorf("expected ErrMissingField wrapped in ErrPersistence, got %v", err)
	}
	if len(store.chains["P"]) != 0 {
		t.Error("incomplete event was persisted")
	}
}

func TestKeyedLocker_dropsIdleKeys(t *testing.T) {
	l := NewKeyedLocker()
	unlock, err := l.Lock(context.Background(), "P")
	if err != nil {
		t.Fatal(err)
	}
	if l.held() != 1 {
		t.Errorf("held: %d", l.held())
	}
	unlock()
	unlock() // idempotent
	if l.held() != 0 {
		t.Errorf("idle key not dropped: %d", l.held())
	}
}
