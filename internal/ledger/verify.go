package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/expenseflow/ledger/internal/signer"
)

// verifyConcurrency bounds the fan-out across blocks during verification.
// Per-block checks are independent; only the linkage check needs the
// predecessor, which the snapshot already provides.
const verifyConcurrency = 4

// BlockReport itemizes the verification outcome for one block.
type BlockReport struct {
	BlockNumber int      `json:"blockNumber"`
	BlockHash   string   `json:"blockHash"`
	EventCount  int      `json:"eventCount"`
	Valid       bool     `json:"valid"`
	Issues      []string `json:"issues,omitempty"`
}

// VerificationReport aggregates the full-chain walk. Verification never
// mutates the chain and never fails hard: tampering is reported as issues,
// and the caller decides how to react.
type VerificationReport struct {
	Valid       bool          `json:"valid"`
	TotalBlocks int           `json:"totalBlocks"`
	TotalEvents int           `json:"totalEvents"`
	Blocks      []BlockReport `json:"blocks"`
	Issues      []string      `json:"issues,omitempty"`
	VerifiedAt  time.Time     `json:"verifiedAt"`
}

// VerifyChain walks every finalized block and checks, per block: positional
// block number, previous-hash linkage against the predecessor's recomputed
// hash, Merkle root recomputation, block signature, block hash recomputation,
// and every event's content digest and envelope signature.
func (l *Ledger) VerifyChain(ctx context.Context) *VerificationReport {
	blocks := l.snapshot()
	pub := l.signer.PublicKey()

	report := &VerificationReport{
		Valid:       true,
		TotalBlocks: len(blocks),
		Blocks:      make([]BlockReport, len(blocks)),
		VerifiedAt:  time.Now().UTC(),
	}

	sem := make(chan struct{}, verifyConcurrency)
	var wg sync.WaitGroup
	launched := len(blocks)
	for i := range blocks {
		if ctx.Err() != nil {
			launched = i
			break
		}
		select {
		case <-ctx.Done():
			launched = i
		case sem <- struct{}{}:
			wg.Add(1)
			go func(idx int) {
				defer func() {
					<-sem
					wg.Done()
				}()
				var prev *Block
				if idx > 0 {
					prev = blocks[idx-1]
				}
				report.Blocks[idx] = verifyBlock(blocks[idx], idx, prev, pub)
			}(i)
			continue
		}
		break
	}
	wg.Wait()

	// On cancellation, never leave zero-valued entries behind: a consumer must
	// be able to tell "checked and failed" from "not checked at all".
	if launched < len(blocks) {
		report.Issues = append(report.Issues, fmt.Sprintf("verification aborted: %v", ctx.Err()))
		for j := launched; j < len(blocks); j++ {
			report.Blocks[j] = BlockReport{
				BlockNumber: blocks[j].Number,
				BlockHash:   blocks[j].Hash,
				EventCount:  len(blocks[j].Events),
				Valid:       false,
				Issues:      []string{fmt.Sprintf("block %d: not verified: %v", blocks[j].Number, ctx.Err())},
			}
		}
	}

	for i := range report.Blocks {
		report.TotalEvents += report.Blocks[i].EventCount
		if !report.Blocks[i].Valid {
			report.Valid = false
			report.Issues = append(report.Issues, report.Blocks[i].Issues...)
		}
	}
	return report
}

// verifyBlock runs all per-block checks and returns the itemized report.
func verifyBlock(b *Block, idx int, prev *Block, pub []byte) BlockReport {
	br := BlockReport{
		BlockNumber: b.Number,
		BlockHash:   b.Hash,
		EventCount:  len(b.Events),
		Valid:       true,
	}
	issue := func(format string, args ...interface{}) {
		br.Valid = false
		br.Issues = append(br.Issues, fmt.Sprintf(format, args...))
	}

	if b.Number != idx {
		issue("block %d: stored number %d does not match chain position %d", idx, b.Number, idx)
	}

	if prev == nil {
		if b.PreviousHash != GenesisPreviousHash {
			issue("block %d: genesis previousHash %s is not the zero sentinel", idx, b.PreviousHash)
		}
	} else {
		prevHash, err := prev.computeHash()
		if err != nil {
			issue("block %d: recompute predecessor hash: %v", idx, err)
		} else if b.PreviousHash != prevHash {
			issue("block %d: previousHash %s does not match block %d hash %s", idx, b.PreviousHash, prev.Number, prevHash)
		}
	}

	root, err := b.computeMerkleRoot()
	if err != nil {
		issue("block %d: recompute merkle root: %v", idx, err)
	} else if root != b.MerkleRoot {
		issue("block %d: merkle root mismatch: computed=%s stored=%s", idx, root, b.MerkleRoot)
	}

	digest, err := b.signingDigest()
	if err != nil {
		issue("block %d: canonicalize signing tuple: %v", idx, err)
	} else {
		sig, err := base64.StdEncoding.DecodeString(b.Signature)
		if err != nil {
			issue("block %d: invalid signature encoding: %v", idx, err)
		} else if !signer.Verify(pub, digest, sig) {
			issue("block %d: block signature verification failed", idx)
		}
	}

	hash, err := b.computeHash()
	if err != nil {
		issue("block %d: recompute hash: %v", idx, err)
	} else if hash != b.Hash {
		issue("block %d: hash mismatch: computed=%s stored=%s", idx, hash, b.Hash)
	}

	for _, ev := range b.Events {
		verifyEvent(b.Number, ev, pub, issue)
	}
	return br
}

// verifyEvent checks one event's content digest and envelope signature.
func verifyEvent(blockNumber int, ev *Event, pub []byte, issue func(string, ...interface{})) {
	cd, err := contentDigest(ev.Details)
	if err != nil {
		issue("block %d event %s: recompute content digest: %v", blockNumber, ev.EventID, err)
	} else if cd != ev.ContentDigest {
		issue("block %d event %s: content digest mismatch: computed=%s stored=%s", blockNumber, ev.EventID, cd, ev.ContentDigest)
	}

	envDigest, err := ev.envelopeDigest()
	if err != nil {
		issue("block %d event %s: canonicalize envelope: %v", blockNumber, ev.EventID, err)
		return
	}
	sig, err := base64.StdEncoding.DecodeString(ev.Signature)
	if err != nil {
		issue("block %d event %s: invalid signature encoding: %v", blockNumber, ev.EventID, err)
		return
	}
	if !signer.Verify(pub, envDigest, sig) {
		issue("block %d event %s: event signature verification failed", blockNumber, ev.EventID)
	}
}
