package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrEncoding is returned when an event payload cannot be canonically serialised.
	ErrEncoding = errors.New("ledger: payload encoding failed")

	// ErrPersistence is returned when storage is unavailable or rejects a write.
	ErrPersistence = errors.New("ledger: persistence failed")

	// ErrConcurrencyConflict is returned when another writer advanced the chain
	// first or the per-project lock could not be acquired in time. Callers
	// should retry the whole CreateEvent call.
	ErrConcurrencyConflict = errors.New("ledger: concurrent append conflict")

	// ErrNotFound is returned by collaborators (e.g. a project lookup) when the
	// referenced entity does not exist. Reads of an empty chain never return it.
	ErrNotFound = errors.New("ledger: not found")

	// ErrInvalidInput is returned for empty project, event type or actor ids.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrMissingField is returned by stores when asked to append an incomplete event.
	ErrMissingField = errors.New("ledger: missing required field")
)

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

// persistence wraps a storage error as ErrPersistence unless it already
// carries one of the ledger's own kinds.
func persistence(op string, err error) error {
	if errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
