package ledger

import "context"

// Store is the persistence boundary of the ledger. Implementations own the
// authoritative chain tip of every project.
type Store interface {
	// FindTip returns the latest event of the project in chain order, or
	// nil, nil if the project has no events yet.
	FindTip(ctx context.Context, projectID string) (*Event, error)

	// Append durably persists a fully formed event and returns it with Seq
	// assigned. It fails without persisting anything if a required field is
	// missing, and with ErrConcurrencyConflict if event.PreviousHash no
	// longer matches the stored tip.
	Append(ctx context.Context, event *Event) (*Event, error)

	// FindAll returns every event of the project, oldest first.
	FindAll(ctx context.Context, projectID string) ([]*Event, error)
}

// ProjectLister is implemented by stores that can enumerate the projects
// that own at least one event.
type ProjectLister interface {
	Projects(ctx context.Context) ([]string, error)
}

// expectedPrevious returns the hash a new event must link to given the
// current tip (nil for an empty chain).
func expectedPrevious(tip *Event) string {
	if tip == nil {
		return GenesisHash
	}
	return tip.CurrentHash
}
