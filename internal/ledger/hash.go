package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/gowebpki/jcs"
)

// timestampLayout is fixed-width so a stored timestamp always round-trips to
// the same string.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t (converted to UTC) in the ledger's timestamp layout.
// It is the only formatter used for hashed timestamps.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// hashedPayload is the structure whose canonical form is hashed. Field order
// here is irrelevant: JCS sorts the keys.
type hashedPayload struct {
	ProjectID string          `json:"projectId"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	ActorID   string          `json:"actorId"`
}

// CanonicalData returns the RFC 8785 canonical JSON form of data. data may be
// any JSON-marshallable value or raw JSON bytes; equal logical content always
// yields identical bytes.
func CanonicalData(data any) (json.RawMessage, error) {
	var raw []byte
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal data: %w", ErrEncoding, err)
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	if err := checkNumbers(raw); err != nil {
		return nil, err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize data: %w", ErrEncoding, err)
	}
	return canon, nil
}

// checkNumbers rejects numbers that the canonical form would change. JCS
// serialises numbers as IEEE 754 doubles, so an integer beyond 2^53 or an
// over-long decimal would otherwise be stored and hashed as a different value.
func checkNumbers(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: decode data: %w", ErrEncoding, err)
	}
	return walkNumbers(v)
}

func walkNumbers(v any) error {
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if err := walkNumbers(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := walkNumbers(child); err != nil {
				return err
			}
		}
	case json.Number:
		return checkNumber(t.String())
	}
	return nil
}

// checkNumber reports whether the shortest double representation of s, which
// is what JCS emits, denotes exactly the decimal value s.
func checkNumber(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: number %s out of range", ErrEncoding, s)
	}
	want, ok := new(big.Rat).SetString(s)
	if !ok {
		return fmt.Errorf("%w: invalid number %s", ErrEncoding, s)
	}
	got, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	if !ok || want.Cmp(got) != 0 {
		return fmt.Errorf("%w: number %s cannot be represented exactly", ErrEncoding, s)
	}
	return nil
}

// ComputeDigest returns the hex SHA-256 digest of the canonical event payload
// concatenated with previousHash. The write path and the verify path both go
// through this function.
func ComputeDigest(projectID, eventType string, data any, timestamp, createdBy, previousHash string) (string, error) {
	canonData, err := CanonicalData(data)
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(hashedPayload{
		ProjectID: projectID,
		EventType: eventType,
		Data:      canonData,
		Timestamp: timestamp,
		ActorID:   createdBy,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %w", ErrEncoding, err)
	}
	canon, err := jcs.Transform(b)
	if err != nil {
		return "", fmt.Errorf("%w: canonicalize payload: %w", ErrEncoding, err)
	}

	h := sha256.New()
	h.Write(canon)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// digestOf recomputes the digest of a stored event from its own fields.
func digestOf(e *Event) (string, error) {
	return ComputeDigest(e.ProjectID, e.EventType, e.Data, e.Timestamp, e.CreatedBy, e.PreviousHash)
}
