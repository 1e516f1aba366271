package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChainFormatVersion identifies the hashing rules of a chain. A future change
// to the payload layout or canonical encoding gets a new version and a new
// genesis marker.
const ChainFormatVersion = 1

// GenesisHashV1 is the previous-hash of the first event of every version 1 chain.
const GenesisHashV1 = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisHash is the genesis marker for the current chain format.
const GenesisHash = GenesisHashV1

// Conventional event types. The set is open: unknown types are chained the same way.
const (
	EventProjectCreated = "PROJECT_CREATED"
	EventProgressUpdate = "PROGRESS_UPDATE"
)

// Event is one immutable record in a project's chain.
type Event struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    string          `json:"project_id"`
	Seq          int64           `json:"seq"`
	EventType    string          `json:"event_type"`
	Data         json.RawMessage `json:"data"`
	Timestamp    string          `json:"timestamp"` // exact hashed representation
	CreatedBy    string          `json:"created_by"`
	PreviousHash string          `json:"previous_hash"`
	CurrentHash  string          `json:"current_hash"`
}

// Time parses Timestamp. It is for display and indexing only; hashing always
// uses the stored string.
func (e *Event) Time() (time.Time, error) {
	return time.Parse(timestampLayout, e.Timestamp)
}

// clone returns a deep copy so stores never hand out their internal state.
func (e *Event) clone() *Event {
	cp := *e
	if e.Data != nil {
		cp.Data = append(json.RawMessage(nil), e.Data...)
	}
	return &cp
}

// validate checks that every persisted field is present.
func (e *Event) validate() error {
	switch {
	case e.ID == uuid.Nil:
		return missing("id")
	case e.ProjectID == "":
		return missing("project_id")
	case e.EventType == "":
		return missing("event_type")
	case len(e.Data) == 0:
		return missing("data")
	case e.Timestamp == "":
		return missing("timestamp")
	case e.CreatedBy == "":
		return missing("created_by")
	case e.PreviousHash == "":
		return missing("previous_hash")
	case e.CurrentHash == "":
		return missing("current_hash")
	}
	return nil
}
