package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/ledger/internal/canonical"
	"github.com/expenseflow/ledger/internal/signer"
)

// Compliance standards with a fixed legal disclaimer. Unknown standards fall
// back to the generic disclaimer.
const (
	StandardSOX    = "SOX"
	StandardGDPR   = "GDPR"
	StandardHIPAA  = "HIPAA"
	StandardPCIDSS = "PCI-DSS"
)

var disclaimers = map[string]string{
	StandardSOX:    "This export is produced from a cryptographically chained, append-only audit ledger in support of Sarbanes-Oxley Section 404 internal control attestation. Each record carries an independent digital signature; the block chain linkage establishes that no record has been inserted, altered, or removed after the fact.",
	StandardGDPR:   "This export is produced from a tamper-evident processing-activity ledger maintained under Article 30 GDPR. Record integrity is protected by per-event digital signatures and Merkle-tree block commitments; the export does not waive data-subject rights over the underlying personal data.",
	StandardHIPAA:  "This export constitutes an audit-controls record under 45 CFR 164.312(b). Events are individually signed and batch-committed to a hash-linked chain; any post-hoc modification of the exported records is detectable through the included verification material.",
	StandardPCIDSS: "This export is produced from a secured, centralized audit trail as required by PCI DSS Requirement 10. Per-event signatures and chained block hashes provide the log integrity assurance contemplated by Requirement 10.5.",
}

const genericDisclaimer = "This export is produced from an append-only, cryptographically verifiable audit ledger. Every event is digitally signed at recording time and committed to a Merkle-tree-protected, hash-linked block chain; the included verification material allows any party holding the public key to independently confirm the export has not been altered."

// Disclaimer returns the fixed legal text for a compliance standard.
func Disclaimer(standard string) string {
	if d, ok := disclaimers[standard]; ok {
		return d
	}
	return genericDisclaimer
}

// Certification is one named integrity assertion in an export's
// certification chain.
type Certification struct {
	Name      string `json:"name"`
	Assertion string `json:"assertion"`
}

// ExportedEvent is a reported event annotated with the outcome of its
// independent legal verification (signature and content digest both check out).
type ExportedEvent struct {
	ReportedEvent
	LegallyVerifiable bool `json:"legallyVerifiable"`
}

// LegalExport is a compliance export: an audit report wrapped with a legal
// disclaimer, an aggregate digest over the selection, a certification chain,
// and its own signature.
type LegalExport struct {
	ExportID    string    `json:"exportId"`
	Standard    string    `json:"standard"`
	GeneratedAt time.Time `json:"generatedAt"`
	Disclaimer  string    `json:"disclaimer"`

	Events []ExportedEvent `json:"events"`
	Report *AuditReport    `json:"report"`

	AggregateDigest    string          `json:"aggregateDigest"`
	CertificationChain []Certification `json:"certificationChain"`

	// ExportSignature covers (exportId, standard, aggregateDigest,
	// reportSignature).
	ExportSignature string `json:"exportSignature"`
	SignerId        string `json:"signerId,omitempty"`
	PublicKey       string `json:"publicKey"`
}

// CreateComplianceExport builds a legal export on top of GenerateReport.
// Creating an export is itself an auditable action: the export's creation is
// recorded back into the ledger through the ordinary Record path.
func (l *Ledger) CreateComplianceExport(ctx context.Context, standard string, req ReportRequest) (*LegalExport, error) {
	if standard == "" {
		return nil, fmt.Errorf("%w: standard required", ErrInvalidEvent)
	}

	report, err := l.GenerateReport(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate report for export: %w", err)
	}

	pub := l.signer.PublicKey()
	events := make([]ExportedEvent, 0, len(report.Events))
	for _, re := range report.Events {
		events = append(events, ExportedEvent{
			ReportedEvent:     re,
			LegallyVerifiable: eventVerifiable(re.Event, pub),
		})
	}

	aggregate, err := aggregateDigest(report.Events)
	if err != nil {
		return nil, err
	}

	export := &LegalExport{
		ExportID:        uuid.New().String(),
		Standard:        standard,
		GeneratedAt:     time.Now().UTC(),
		Disclaimer:      Disclaimer(standard),
		Events:          events,
		Report:          report,
		AggregateDigest: aggregate,
		CertificationChain: []Certification{
			{Name: "system", Assertion: "Records were produced by a single authoring ledger process and appended in arrival order; block numbers are strictly sequential."},
			{Name: "cryptographic", Assertion: "Every event is Ed25519-signed at recording time and committed under a SHA-256 Merkle root; block headers are signed and hash-linked."},
			{Name: "immutability", Assertion: "The chain is append-only; the embedded verification report recomputes all hashes, roots, and signatures over the stored records."},
		},
		PublicKey: base64.StdEncoding.EncodeToString(pub),
	}

	digest, err := exportDigest(export)
	if err != nil {
		return nil, err
	}
	sig, signerId, err := l.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("sign export: %w", err)
	}
	export.ExportSignature = base64.StdEncoding.EncodeToString(sig)
	export.SignerId = signerId

	// Self-referential audit: the export's own creation enters the ledger.
	_, err = l.Record(ctx, RecordInput{
		Action:     "compliance.export.created",
		Actor:      SystemActor,
		Resource:   "compliance_export",
		ResourceID: export.ExportID,
		Details: map[string]interface{}{
			"standard":        standard,
			"eventCount":      len(events),
			"aggregateDigest": aggregate,
			"reportId":        report.ReportID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record export creation: %w", err)
	}
	return export, nil
}

// VerifyExportSignature checks an export's signature using its embedded
// public key.
func VerifyExportSignature(export *LegalExport) (bool, error) {
	pub, err := base64.StdEncoding.DecodeString(export.PublicKey)
	if err != nil {
		return false, fmt.Errorf("decode export public key: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(export.ExportSignature)
	if err != nil {
		return false, fmt.Errorf("decode export signature: %w", err)
	}
	digest, err := exportDigest(export)
	if err != nil {
		return false, err
	}
	return signer.Verify(pub, digest, sig), nil
}

// eventVerifiable reports whether the event passes independent verification:
// envelope signature and content digest both check out.
func eventVerifiable(ev *Event, pub []byte) bool {
	cd, err := contentDigest(ev.Details)
	if err != nil || cd != ev.ContentDigest {
		return false
	}
	envDigest, err := ev.envelopeDigest()
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(ev.Signature)
	if err != nil {
		return false
	}
	return signer.Verify(pub, envDigest, sig)
}

// aggregateDigest hashes the ordered leaf digests of the selected events into
// a single hex digest.
func aggregateDigest(events []ReportedEvent) (string, error) {
	h := sha256.New()
	for _, re := range events {
		leaf, err := re.leafDigest()
		if err != nil {
			return "", err
		}
		raw, err := hex.DecodeString(leaf)
		if err != nil {
			return "", fmt.Errorf("decode leaf digest: %w", err)
		}
		h.Write(raw)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// exportDigest computes the digest the export signature covers.
func exportDigest(export *LegalExport) ([]byte, error) {
	tuple := map[string]interface{}{
		"exportId":        export.ExportID,
		"standard":        export.Standard,
		"aggregateDigest": export.AggregateDigest,
		"reportSignature": export.Report.ReportSignature,
	}
	b, err := canonical.Marshal(tuple)
	if err != nil {
		return nil, fmt.Errorf("canonicalize export tuple: %w", err)
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}
