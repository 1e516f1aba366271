package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Key layout. Project ids are hex encoded so one project's prefix can never
// match another's keys.
//
//	tip:<hex project>                -> badgerTip
//	event:<hex project>:<%016d seq>  -> badgerRecord
const (
	badgerTipPrefix   = "tip:"
	badgerEventPrefix = "event:"
)

// BadgerConfig configures OpenBadger.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

type badgerTip struct {
	Seq  int64  `json:"seq"`
	Hash string `json:"hash"`
}

// badgerRecord keeps Data as bytes so the stored payload round-trips exactly.
type badgerRecord struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    string    `json:"project_id"`
	Seq          int64     `json:"seq"`
	EventType    string    `json:"event_type"`
	Data         []byte    `json:"data"`
	Timestamp    string    `json:"timestamp"`
	CreatedBy    string    `json:"created_by"`
	PreviousHash string    `json:"previous_hash"`
	CurrentHash  string    `json:"current_hash"`
}

// BadgerStore implements Store and ProjectLister on an embedded BadgerDB.
// Appends run in optimistic transactions that read and rewrite the project's
// tip key, so a racing append fails with badger.ErrConflict.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger
}

// badgerLogger adapts zap to BadgerDB's Logger interface.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// OpenBadger opens a BadgerDB per cfg and wraps it in a BadgerStore.
func OpenBadger(cfg BadgerConfig, logger *zap.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{s: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return NewBadgerStore(db, logger), nil
}

// NewBadgerStore wraps an open database.
func NewBadgerStore(db *badger.DB, logger *zap.Logger) *BadgerStore {
	return &BadgerStore{db: db, logger: logger}
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func badgerTipKey(projectID string) []byte {
	return []byte(badgerTipPrefix + hex.EncodeToString([]byte(projectID)))
}

func badgerEventPrefixFor(projectID string) []byte {
	return []byte(badgerEventPrefix + hex.EncodeToString([]byte(projectID)) + ":")
}

func badgerEventKey(projectID string, seq int64) []byte {
	return append(badgerEventPrefixFor(projectID), fmt.Sprintf("%016d", seq)...)
}

// readTip returns nil when the project has no events.
func readTip(txn *badger.Txn, projectID string) (*badgerTip, error) {
	item, err := txn.Get(badgerTipKey(projectID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tip := &badgerTip{}
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, tip) }); err != nil {
		return nil, fmt.Errorf("decode tip: %w", err)
	}
	return tip, nil
}

func readRecord(item *badger.Item) (*Event, error) {
	var rec badgerRecord
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", item.Key(), err)
	}
	return &Event{
		ID:           rec.ID,
		ProjectID:    rec.ProjectID,
		Seq:          rec.Seq,
		EventType:    rec.EventType,
		Data:         json.RawMessage(rec.Data),
		Timestamp:    rec.Timestamp,
		CreatedBy:    rec.CreatedBy,
		PreviousHash: rec.PreviousHash,
		CurrentHash:  rec.CurrentHash,
	}, nil
}

// FindTip implements Store.
func (s *BadgerStore) FindTip(_ context.Context, projectID string) (*Event, error) {
	var tipEvent *Event
	err := s.db.View(func(txn *badger.Txn) error {
		tip, err := readTip(txn, projectID)
		if err != nil || tip == nil {
			return err
		}
		item, err := txn.Get(badgerEventKey(projectID, tip.Seq))
		if err != nil {
			return fmt.Errorf("read tip event: %w", err)
		}
		tipEvent, err = readRecord(item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tipEvent, nil
}

// Append implements Store.
func (s *BadgerStore) Append(_ context.Context, event *Event) (*Event, error) {
	if err := event.validate(); err != nil {
		return nil, persistence("append", err)
	}

	stored := event.clone()
	err := s.db.Update(func(txn *badger.Txn) error {
		tip, err := readTip(txn, event.ProjectID)
		if err != nil {
			return err
		}
		var tipSeq int64
		tipHash := GenesisHash
		if tip != nil {
			tipSeq, tipHash = tip.Seq, tip.Hash
		}
		if event.PreviousHash != tipHash {
			return fmt.Errorf("%w: project %s tip moved", ErrConcurrencyConflict, event.ProjectID)
		}
		stored.Seq = tipSeq + 1

		rec, err := json.Marshal(badgerRecord{
			ID:           stored.ID,
			ProjectID:    stored.ProjectID,
			Seq:          stored.Seq,
			EventType:    stored.EventType,
			Data:         stored.Data,
			Timestamp:    stored.Timestamp,
			CreatedBy:    stored.CreatedBy,
			PreviousHash: stored.PreviousHash,
			CurrentHash:  stored.CurrentHash,
		})
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		newTip, err := json.Marshal(badgerTip{Seq: stored.Seq, Hash: stored.CurrentHash})
		if err != nil {
			return fmt.Errorf("encode tip: %w", err)
		}
		if err := txn.Set(badgerEventKey(stored.ProjectID, stored.Seq), rec); err != nil {
			return err
		}
		return txn.Set(badgerTipKey(stored.ProjectID), newTip)
	})
	if errors.Is(err, badger.ErrConflict) {
		return nil, fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// FindAll implements Store.
func (s *BadgerStore) FindAll(ctx context.Context, projectID string) ([]*Event, error) {
	events := make([]*Event, 0)
	prefix := badgerEventPrefixFor(projectID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			e, err := readRecord(it.Item())
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Projects implements ProjectLister.
func (s *BadgerStore) Projects(_ context.Context) ([]string, error) {
	var ids []string
	prefix := []byte(badgerTipPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := hex.DecodeString(strings.TrimPrefix(string(it.Item().Key()), badgerTipPrefix))
			if err != nil {
				s.logger.Warn("skipping malformed tip key", zap.ByteString("key", it.Item().Key()))
				continue
			}
			ids = append(ids, string(raw))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
