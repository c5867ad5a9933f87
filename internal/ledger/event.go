// package ledger implements the append-only, signed audit chain: events are
// recorded into a pending buffer, sealed into Merkle-protected blocks, and
// linked by block hash. Verification and reporting are read-only consumers.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/ledger/internal/canonical"
)

// ErrInvalidEvent wraps input validation failures at Record time. Events that
// fail validation never enter the pending buffer.
var ErrInvalidEvent = errors.New("invalid event")

// ErrNotFound is returned when a requested block or event cannot be located.
var ErrNotFound = errors.New("not found")

// Event is one auditable action. Immutable after Record.
type Event struct {
	EventID    string                 `json:"eventId"`
	Ts         time.Time              `json:"ts"`
	Action     string                 `json:"action"`
	Actor      string                 `json:"actor"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resourceId"`
	// Details is an opaque caller payload; the ledger never re-interprets it.
	Details  map[string]interface{} `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	// ContentDigest is sha256(canonical(details)), fixed at Record time so
	// payload tampering is detectable independent of the envelope.
	ContentDigest string `json:"contentDigest"`
	// Signature covers the canonical envelope (action, actor, resource,
	// resourceId, ts). Base64-encoded Ed25519 signature over the envelope digest.
	Signature string `json:"signature"`
	SignerId  string `json:"signerId,omitempty"`
}

// RecordInput is the caller-facing shape accepted by Ledger.Record.
type RecordInput struct {
	Action     string                 `json:"action"`
	Actor      string                 `json:"actor"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resourceId"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Validate rejects events with missing identifying fields.
func (in *RecordInput) Validate() error {
	if in.Action == "" {
		return fmt.Errorf("%w: action required", ErrInvalidEvent)
	}
	if in.Actor == "" {
		return fmt.Errorf("%w: actor required", ErrInvalidEvent)
	}
	if in.Resource == "" {
		return fmt.Errorf("%w: resource required", ErrInvalidEvent)
	}
	if in.ResourceID == "" {
		return fmt.Errorf("%w: resourceId required", ErrInvalidEvent)
	}
	return nil
}

// Receipt is returned by Record for immediate client-side spot checking.
// BlockNumber is the number of the block the event will belong to once the
// pending buffer is finalized.
type Receipt struct {
	EventID       string `json:"eventId"`
	BlockNumber   int    `json:"blockNumber"`
	Position      int    `json:"position"`
	ContentDigest string `json:"contentDigest"`
	EventDigest   string `json:"eventDigest"`
}

// NewEventID returns a freshly-generated UUID string.
func NewEventID() string {
	return uuid.New().String()
}

// contentDigest computes the hex sha256 over canonical(details). A nil details
// map digests identically to an empty one.
func contentDigest(details map[string]interface{}) (string, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	return canonical.Digest(details)
}

// envelopeDigest computes the digest the event signature covers: the canonical
// serialization of (action, actor, resource, resourceId, ts).
func (e *Event) envelopeDigest() ([]byte, error) {
	env := map[string]interface{}{
		"action":     e.Action,
		"actor":      e.Actor,
		"resource":   e.Resource,
		"resourceId": e.ResourceID,
		"ts":         e.Ts.UTC().Format(time.RFC3339Nano),
	}
	b, err := canonical.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("canonicalize event envelope: %w", err)
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

// leafDigest is the Merkle leaf for this event: the hex sha256 over the
// canonical full event identity, with the content digest recomputed from
// Details. Recomputing (rather than trusting e.ContentDigest) makes any
// post-hoc mutation of the payload surface as a Merkle root mismatch.
func (e *Event) leafDigest() (string, error) {
	cd, err := contentDigest(e.Details)
	if err != nil {
		return "", fmt.Errorf("content digest for event %s: %w", e.EventID, err)
	}
	leaf := map[string]interface{}{
		"eventId":       e.EventID,
		"ts":            e.Ts.UTC().Format(time.RFC3339Nano),
		"action":        e.Action,
		"actor":         e.Actor,
		"resource":      e.Resource,
		"resourceId":    e.ResourceID,
		"contentDigest": cd,
		"metadata":      e.Metadata,
	}
	b, err := canonical.Marshal(leaf)
	if err != nil {
		return "", fmt.Errorf("canonicalize event %s: %w", e.EventID, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
