package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/expenseflow/ledger/internal/canonical"
)

// GenesisPreviousHash is the all-zero sentinel digest referenced by block 0.
var GenesisPreviousHash = strings.Repeat("0", 64)

// Block is a sealed batch of events. Immutable once appended to the chain.
type Block struct {
	Number       int       `json:"blockNumber"`
	Ts           time.Time `json:"ts"`
	PreviousHash string    `json:"previousHash"`
	Events       []*Event  `json:"events"`
	MerkleRoot   string    `json:"merkleRoot"`
	// Signature covers (blockNumber, ts, previousHash, merkleRoot) and is
	// computed before Hash, so the signing scope stays minimal and stable.
	Signature string `json:"signature"`
	SignerId  string `json:"signerId,omitempty"`
	// Hash covers (blockNumber, ts, previousHash, merkleRoot, eventCount) and
	// is what the next block's PreviousHash references.
	Hash string `json:"hash"`
}

// EventCount returns the number of events sealed in the block.
func (b *Block) EventCount() int {
	return len(b.Events)
}

// signingDigest is the digest the block signature covers.
func (b *Block) signingDigest() ([]byte, error) {
	tuple := map[string]interface{}{
		"blockNumber":  b.Number,
		"ts":           b.Ts.UTC().Format(time.RFC3339Nano),
		"previousHash": b.PreviousHash,
		"merkleRoot":   b.MerkleRoot,
	}
	cb, err := canonical.Marshal(tuple)
	if err != nil {
		return nil, fmt.Errorf("canonicalize block %d signing tuple: %w", b.Number, err)
	}
	sum := sha256.Sum256(cb)
	return sum[:], nil
}

// computeHash recomputes the block hash from the stored header fields.
func (b *Block) computeHash() (string, error) {
	tuple := map[string]interface{}{
		"blockNumber":  b.Number,
		"ts":           b.Ts.UTC().Format(time.RFC3339Nano),
		"previousHash": b.PreviousHash,
		"merkleRoot":   b.MerkleRoot,
		"eventCount":   len(b.Events),
	}
	cb, err := canonical.Marshal(tuple)
	if err != nil {
		return "", fmt.Errorf("canonicalize block %d hash tuple: %w", b.Number, err)
	}
	sum := sha256.Sum256(cb)
	return hex.EncodeToString(sum[:]), nil
}

// computeMerkleRoot rebuilds the Merkle root over the block's event leaves.
func (b *Block) computeMerkleRoot() (string, error) {
	leaves := make([]string, 0, len(b.Events))
	for _, ev := range b.Events {
		leaf, err := ev.leafDigest()
		if err != nil {
			return "", err
		}
		leaves = append(leaves, leaf)
	}
	return merkleRoot(leaves)
}

// Header is the compact block descriptor published to downstream consumers
// (Kafka announcements, statistics endpoints).
type Header struct {
	Number       int       `json:"blockNumber"`
	Ts           time.Time `json:"ts"`
	PreviousHash string    `json:"previousHash"`
	MerkleRoot   string    `json:"merkleRoot"`
	Hash         string    `json:"hash"`
	EventCount   int       `json:"eventCount"`
}

// Header returns the block's compact descriptor.
func (b *Block) Header() Header {
	return Header{
		Number:       b.Number,
		Ts:           b.Ts,
		PreviousHash: b.PreviousHash,
		MerkleRoot:   b.MerkleRoot,
		Hash:         b.Hash,
		EventCount:   len(b.Events),
	}
}
