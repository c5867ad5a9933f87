package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/ledger/internal/signer"
)

// DefaultBlockCapacity is the pending-buffer size that triggers finalization.
const DefaultBlockCapacity = 100

// SystemActor is the actor recorded on ledger-authored events (genesis
// initialization, compliance export audit trail).
const SystemActor = "system"

// Options tune a Ledger at construction time.
type Options struct {
	// BlockCapacity caps events per block; DefaultBlockCapacity when <= 0.
	BlockCapacity int

	// OnFinalize, when set, is invoked with every sealed block (including
	// genesis). It must not block; wire it to Publisher.Enqueue.
	OnFinalize func(*Block)
}

// Ledger owns the chain: the ordered sequence of finalized blocks plus the
// pending buffer. A single mutex guards both, so finalization is indivisible
// from any writer's perspective. Blocks are immutable once appended, which
// lets verification and reporting run lock-free over a snapshot.
type Ledger struct {
	signer     signer.Signer
	capacity   int
	chainID    string
	onFinalize func(*Block)

	mu        sync.Mutex
	pending   []*Event
	blocks    []*Block
	startTime time.Time
	lastEvent time.Time
}

// New constructs a Ledger and seals the genesis block, seeded with a single
// system-authored initialization event. The chain is never empty.
func New(s signer.Signer, opts Options) (*Ledger, error) {
	if s == nil {
		return nil, fmt.Errorf("ledger: signer required")
	}
	capacity := opts.BlockCapacity
	if capacity <= 0 {
		capacity = DefaultBlockCapacity
	}
	l := &Ledger{
		signer:     s,
		capacity:   capacity,
		chainID:    uuid.New().String(),
		onFinalize: opts.OnFinalize,
		startTime:  time.Now().UTC(),
	}

	init := RecordInput{
		Action:     "chain.initialized",
		Actor:      SystemActor,
		Resource:   "audit_chain",
		ResourceID: l.chainID,
		Details: map[string]interface{}{
			"blockCapacity": capacity,
			"startedAt":     l.startTime.Format(time.RFC3339Nano),
		},
	}
	if _, err := l.Record(context.Background(), init); err != nil {
		return nil, fmt.Errorf("record genesis event: %w", err)
	}
	if _, err := l.Finalize(context.Background()); err != nil {
		return nil, fmt.Errorf("seal genesis block: %w", err)
	}
	return l, nil
}

// ChainID returns the identifier minted for this chain at startup.
func (l *Ledger) ChainID() string { return l.chainID }

// PublicKey exposes the signing public key for independent verification.
func (l *Ledger) PublicKey() []byte { return l.signer.PublicKey() }

// Record validates the input, signs and appends a new event to the pending
// buffer, and returns a receipt. When the buffer reaches capacity the block is
// finalized before returning. If that finalization fails the receipt is still
// returned alongside the error: the event is buffered and will be sealed by
// the next successful flush.
func (l *Ledger) Record(ctx context.Context, in RecordInput) (*Receipt, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()

	now := time.Now().UTC()
	ev := &Event{
		EventID:    NewEventID(),
		Ts:         now,
		Action:     in.Action,
		Actor:      in.Actor,
		Resource:   in.Resource,
		ResourceID: in.ResourceID,
		Details:    in.Details,
		Metadata:   in.Metadata,
	}

	cd, err := contentDigest(ev.Details)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("content digest: %w", err)
	}
	ev.ContentDigest = cd

	envDigest, err := ev.envelopeDigest()
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	sig, signerId, err := l.signer.Sign(envDigest)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("sign event envelope: %w", err)
	}
	ev.Signature = base64.StdEncoding.EncodeToString(sig)
	ev.SignerId = signerId

	leaf, err := ev.leafDigest()
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}

	l.pending = append(l.pending, ev)
	l.lastEvent = now

	receipt := &Receipt{
		EventID:       ev.EventID,
		BlockNumber:   len(l.blocks),
		Position:      len(l.pending) - 1,
		ContentDigest: ev.ContentDigest,
		EventDigest:   leaf,
	}

	var sealed *Block
	if len(l.pending) >= l.capacity {
		sealed, err = l.finalizeLocked()
		if err != nil {
			l.mu.Unlock()
			return receipt, fmt.Errorf("finalize at capacity: %w", err)
		}
	}
	l.mu.Unlock()

	if sealed != nil {
		l.emit(sealed)
	}
	return receipt, nil
}

// Finalize seals the current pending buffer into a new block. Returns
// (nil, nil) when the buffer is empty.
func (l *Ledger) Finalize(ctx context.Context) (*Block, error) {
	l.mu.Lock()
	blk, err := l.finalizeLocked()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if blk != nil {
		l.emit(blk)
	}
	return blk, nil
}

// finalizeLocked builds, signs, hashes and appends a block from the pending
// buffer. The buffer is cleared only after every step succeeded, so a signing
// failure leaves no partial state behind. Caller holds l.mu.
func (l *Ledger) finalizeLocked() (*Block, error) {
	if len(l.pending) == 0 {
		return nil, nil
	}

	events := make([]*Event, len(l.pending))
	copy(events, l.pending)

	prev := GenesisPreviousHash
	if n := len(l.blocks); n > 0 {
		prev = l.blocks[n-1].Hash
	}

	blk := &Block{
		Number:       len(l.blocks),
		Ts:           time.Now().UTC(),
		PreviousHash: prev,
		Events:       events,
	}

	root, err := blk.computeMerkleRoot()
	if err != nil {
		return nil, fmt.Errorf("merkle root for block %d: %w", blk.Number, err)
	}
	blk.MerkleRoot = root

	digest, err := blk.signingDigest()
	if err != nil {
		return nil, err
	}
	sig, signerId, err := l.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("sign block %d: %w", blk.Number, err)
	}
	blk.Signature = base64.StdEncoding.EncodeToString(sig)
	blk.SignerId = signerId

	hash, err := blk.computeHash()
	if err != nil {
		return nil, err
	}
	blk.Hash = hash

	l.blocks = append(l.blocks, blk)
	l.pending = l.pending[:0]
	return blk, nil
}

func (l *Ledger) emit(blk *Block) {
	if l.onFinalize != nil {
		l.onFinalize(blk)
	}
}

// ChainLength returns the number of finalized blocks.
func (l *Ledger) ChainLength() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// Block returns the finalized block at index n.
func (l *Ledger) Block(n int) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 || n >= len(l.blocks) {
		return nil, fmt.Errorf("block %d: %w", n, ErrNotFound)
	}
	return l.blocks[n], nil
}

// snapshot copies the block slice header under the lock. The blocks themselves
// are immutable, so the returned slice is safe to read without locking.
func (l *Ledger) snapshot() []*Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	blocks := make([]*Block, len(l.blocks))
	copy(blocks, l.blocks)
	return blocks
}

// chainState copies the finalized blocks and the pending buffer under a
// single lock acquisition. A finalization cannot interleave between the two
// copies, so every event is observed exactly once: either in a block or in
// pending, never in neither.
func (l *Ledger) chainState() ([]*Block, []*Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	blocks := make([]*Block, len(l.blocks))
	copy(blocks, l.blocks)
	pending := make([]*Event, len(l.pending))
	copy(pending, l.pending)
	return blocks, pending
}

// Statistics summarizes the chain for monitoring endpoints.
type Statistics struct {
	TotalBlocks    int       `json:"totalBlocks"`
	TotalEvents    int       `json:"totalEvents"`
	PendingCount   int       `json:"pendingCount"`
	ChainStartTime time.Time `json:"chainStartTime"`
	LastEventTime  time.Time `json:"lastEventTime"`
}

// Statistics reports block/event totals and chain timing.
func (l *Ledger) Statistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, b := range l.blocks {
		total += len(b.Events)
	}
	return Statistics{
		TotalBlocks:    len(l.blocks),
		TotalEvents:    total,
		PendingCount:   len(l.pending),
		ChainStartTime: l.startTime,
		LastEventTime:  l.lastEvent,
	}
}
