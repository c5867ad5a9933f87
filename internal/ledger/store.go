package ledger

import "context"

// BlockStore mirrors finalized blocks into durable storage. The in-memory
// chain stays authoritative; stores are write-behind replicas for operators
// and external auditors.
type BlockStore interface {
	// InsertBlock persists one finalized block.
	InsertBlock(ctx context.Context, b *Block) error

	// GetBlock retrieves a persisted block by number.
	GetBlock(ctx context.Context, number int) (*Block, error)

	// Ping validates the store is reachable/healthy.
	Ping(ctx context.Context) error
}
