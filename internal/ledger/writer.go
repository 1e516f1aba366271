package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultLockTimeout = 5 * time.Second
	defaultMaxAttempts = 3
)

// AppendObserver is an optional callback run after every successful append.
type AppendObserver func(e *Event)

// Writer creates ledger events. It is the only mutating entry point.
type Writer struct {
	store       Store
	locker      Locker
	lockTimeout time.Duration
	maxAttempts int
	clock       func() time.Time
	onAppend    AppendObserver
	logger      *zap.Logger
}

// NewWriter creates a Writer. A nil locker falls back to an in-process KeyedLocker.
func NewWriter(store Store, locker Locker, logger *zap.Logger) *Writer {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &Writer{
		store:       store,
		locker:      locker,
		lockTimeout: defaultLockTimeout,
		maxAttempts: defaultMaxAttempts,
		clock:       time.Now,
		logger:      logger,
	}
}

// SetLockTimeout bounds how long CreateEvent waits for the per-project lock.
func (w *Writer) SetLockTimeout(d time.Duration) {
	if d > 0 {
		w.lockTimeout = d
	}
}

// SetMaxAttempts sets how many times a conditional-append conflict is retried
// from the tip read before it is surfaced to the caller.
func (w *Writer) SetMaxAttempts(n int) {
	if n > 0 {
		w.maxAttempts = n
	}
}

// SetAppendObserver configures the post-append callback.
func (w *Writer) SetAppendObserver(fn AppendObserver) {
	w.onAppend = fn
}

// SetClock overrides the time source. Used by tests.
func (w *Writer) SetClock(clock func() time.Time) {
	w.clock = clock
}

// CreateEvent appends a new event to the project's chain and returns it.
//
// The tip read, hash computation and append run under the project's lock, so
// two concurrent calls for one project always produce two linked events.
// Errors are ErrInvalidInput, ErrEncoding, ErrConcurrencyConflict (retryable)
// or ErrPersistence; on error nothing is appended.
func (w *Writer) CreateEvent(ctx context.Context, projectID, eventType string, data any, actorID string) (*Event, error) {
	switch {
	case projectID == "":
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	case eventType == "":
		return nil, fmt.Errorf("%w: event type is required", ErrInvalidInput)
	case actorID == "":
		return nil, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	case !utf8.ValidString(projectID), !utf8.ValidString(eventType), !utf8.ValidString(actorID):
		return nil, fmt.Errorf("%w: ids must be valid UTF-8", ErrInvalidInput)
	}

	canonData, err := CanonicalData(data)
	if err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, w.lockTimeout)
	unlock, err := w.locker.Lock(lockCtx, projectID)
	cancel()
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		event, err := w.appendOnce(ctx, projectID, eventType, canonData, actorID)
		if err == nil {
			if w.onAppend != nil {
				w.onAppend(event)
			}
			w.logger.Debug("ledger event appended",
				zap.String("project_id", event.ProjectID),
				zap.Int64("seq", event.Seq),
				zap.String("event_type", event.EventType),
				zap.String("hash", event.CurrentHash),
			)
			return event, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) || attempt >= w.maxAttempts {
			return nil, err
		}
		w.logger.Info("ledger append conflict, retrying",
			zap.String("project_id", projectID),
			zap.Int("attempt", attempt),
		)
	}
}

func (w *Writer) appendOnce(ctx context.Context, projectID, eventType string, data []byte, actorID string) (*Event, error) {
	tip, err := w.store.FindTip(ctx, projectID)
	if err != nil {
		return nil, persistence("find tip", err)
	}
	previous := expectedPrevious(tip)

	// Captured once: the same string is hashed and stored.
	timestamp := FormatTimestamp(w.clock())

	hash, err := ComputeDigest(projectID, eventType, data, timestamp, actorID, previous)
	if err != nil {
		return nil, err
	}

	event := &Event{
		ID:           uuid.New(),
		ProjectID:    projectID,
		EventType:    eventType,
		Data:         data,
		Timestamp:    timestamp,
		CreatedBy:    actorID,
		PreviousHash: previous,
		CurrentHash:  hash,
	}
	stored, err := w.store.Append(ctx, event)
	if err != nil {
		return nil, persistence("append", err)
	}
	return stored, nil
}
