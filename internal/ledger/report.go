package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/ledger/internal/canonical"
	"github.com/expenseflow/ledger/internal/signer"
)

// ReportRequest selects events by time range and optional exact-match filters.
// Zero From/To mean an open-ended range.
type ReportRequest struct {
	From     time.Time `json:"from,omitempty"`
	To       time.Time `json:"to,omitempty"`
	Action   string    `json:"action,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Resource string    `json:"resource,omitempty"`

	// IncludePending also scans the not-yet-finalized buffer. Pending events
	// carry the future block number and an empty block hash.
	IncludePending bool `json:"includePending,omitempty"`
}

// matches reports whether ev falls inside the request's range and filters.
func (r *ReportRequest) matches(ev *Event) bool {
	if !r.From.IsZero() && ev.Ts.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && ev.Ts.After(r.To) {
		return false
	}
	if r.Action != "" && ev.Action != r.Action {
		return false
	}
	if r.Actor != "" && ev.Actor != r.Actor {
		return false
	}
	if r.Resource != "" && ev.Resource != r.Resource {
		return false
	}
	return true
}

// ReportedEvent annotates a selected event with its owning block.
type ReportedEvent struct {
	*Event
	BlockNumber int    `json:"blockNumber"`
	BlockHash   string `json:"blockHash,omitempty"`
	Pending     bool   `json:"pending,omitempty"`
}

// ReportSummary carries aggregate statistics over the selected event set.
type ReportSummary struct {
	TotalEvents  int            `json:"totalEvents"`
	UniqueActors int            `json:"uniqueActors"`
	Actions      map[string]int `json:"actions"`
	Resources    map[string]int `json:"resources"`
}

// AuditReport is a self-verifying filtered view of the chain: the selected
// events, their summary, an embedded chain verification, and a signature over
// the selected set so the report itself can be checked independently.
type AuditReport struct {
	ReportID    string        `json:"reportId"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Request     ReportRequest `json:"request"`

	Events  []ReportedEvent `json:"events"`
	Summary ReportSummary   `json:"summary"`

	ChainIntegrity *VerificationReport `json:"chainIntegrity"`

	// ReportSignature covers the digest of the canonical selected event set.
	ReportSignature string `json:"reportSignature"`
	SignerId        string `json:"signerId,omitempty"`
	PublicKey       string `json:"publicKey"`
}

// GenerateReport scans finalized blocks (and optionally the pending buffer)
// for events matching the request, and signs the selection.
func (l *Ledger) GenerateReport(ctx context.Context, req ReportRequest) (*AuditReport, error) {
	blocks, pending := l.chainState()

	var selected []ReportedEvent
	for _, b := range blocks {
		for _, ev := range b.Events {
			if req.matches(ev) {
				selected = append(selected, ReportedEvent{
					Event:       ev,
					BlockNumber: b.Number,
					BlockHash:   b.Hash,
				})
			}
		}
	}
	if req.IncludePending {
		next := len(blocks)
		for _, ev := range pending {
			if req.matches(ev) {
				selected = append(selected, ReportedEvent{
					Event:       ev,
					BlockNumber: next,
					Pending:     true,
				})
			}
		}
	}
	if selected == nil {
		selected = []ReportedEvent{}
	}

	report := &AuditReport{
		ReportID:       uuid.New().String(),
		GeneratedAt:    time.Now().UTC(),
		Request:        req,
		Events:         selected,
		Summary:        summarize(selected),
		ChainIntegrity: l.VerifyChain(ctx),
		PublicKey:      base64.StdEncoding.EncodeToString(l.signer.PublicKey()),
	}

	digest, err := selectionDigest(selected)
	if err != nil {
		return nil, err
	}
	sig, signerId, err := l.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("sign report: %w", err)
	}
	report.ReportSignature = base64.StdEncoding.EncodeToString(sig)
	report.SignerId = signerId
	return report, nil
}

// VerifyReportSignature checks a report's signature against its event set,
// using the public key embedded in the report.
func VerifyReportSignature(report *AuditReport) (bool, error) {
	pub, err := base64.StdEncoding.DecodeString(report.PublicKey)
	if err != nil {
		return false, fmt.Errorf("decode report public key: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(report.ReportSignature)
	if err != nil {
		return false, fmt.Errorf("decode report signature: %w", err)
	}
	digest, err := selectionDigest(report.Events)
	if err != nil {
		return false, err
	}
	return signer.Verify(pub, digest, sig), nil
}

// selectionDigest computes the digest a report signature covers: sha256 over
// the canonical list of (eventId, leaf digest) pairs, order preserved.
func selectionDigest(events []ReportedEvent) ([]byte, error) {
	entries := make([]interface{}, 0, len(events))
	for _, re := range events {
		leaf, err := re.leafDigest()
		if err != nil {
			return nil, err
		}
		entries = append(entries, map[string]interface{}{
			"eventId":     re.EventID,
			"eventDigest": leaf,
		})
	}
	b, err := canonical.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("canonicalize report selection: %w", err)
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

func summarize(events []ReportedEvent) ReportSummary {
	s := ReportSummary{
		TotalEvents: len(events),
		Actions:     map[string]int{},
		Resources:   map[string]int{},
	}
	actors := map[string]struct{}{}
	for _, re := range events {
		actors[re.Actor] = struct{}{}
		s.Actions[re.Action]++
		s.Resources[re.Resource]++
	}
	s.UniqueActors = len(actors)
	return s
}
