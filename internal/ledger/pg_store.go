package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PGStore persists finalized blocks into Postgres.
//
// Schema:
//
//	CREATE TABLE ledger_blocks (
//	    block_number  INTEGER PRIMARY KEY,
//	    ts            TIMESTAMPTZ NOT NULL,
//	    previous_hash TEXT NOT NULL,
//	    merkle_root   TEXT NOT NULL,
//	    signature     TEXT NOT NULL,
//	    signer_id     TEXT NOT NULL DEFAULT '',
//	    hash          TEXT NOT NULL,
//	    event_count   INTEGER NOT NULL,
//	    events        JSONB NOT NULL
//	);
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed block store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// InsertBlock persists a finalized block row with its events as JSONB.
func (p *PGStore) InsertBlock(ctx context.Context, b *Block) error {
	eventsJSON, err := json.Marshal(b.Events)
	if err != nil {
		return fmt.Errorf("marshal events for block %d: %w", b.Number, err)
	}

	q := `
		INSERT INTO ledger_blocks
		  (block_number, ts, previous_hash, merkle_root, signature, signer_id, hash, event_count, events)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	_, err = p.db.ExecContext(ctx, q,
		b.Number,
		b.Ts,
		b.PreviousHash,
		b.MerkleRoot,
		b.Signature,
		b.SignerId,
		b.Hash,
		len(b.Events),
		eventsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert block %d: %w", b.Number, err)
	}
	return nil
}

// GetBlock fetches a persisted block by number and unmarshals its events.
func (p *PGStore) GetBlock(ctx context.Context, number int) (*Block, error) {
	q := `SELECT block_number, ts, previous_hash, merkle_root, signature, signer_id, hash, events FROM ledger_blocks WHERE block_number=$1`
	row := p.db.QueryRowContext(ctx, q, number)

	var (
		num                                             int
		ts                                              time.Time
		prevHash, merkleRoot, signature, signerId, hash string
		eventsJSON                                      []byte
	)
	if err := row.Scan(&num, &ts, &prevHash, &merkleRoot, &signature, &signerId, &hash, &eventsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("block %d: %w", number, ErrNotFound)
		}
		return nil, fmt.Errorf("query block %d: %w", number, err)
	}

	var events []*Event
	if err := json.Unmarshal(eventsJSON, &events); err != nil {
		return nil, fmt.Errorf("unmarshal events for block %d: %w", number, err)
	}

	return &Block{
		Number:       num,
		Ts:           ts,
		PreviousHash: prevHash,
		Events:       events,
		MerkleRoot:   merkleRoot,
		Signature:    signature,
		SignerId:     signerId,
		Hash:         hash,
	}, nil
}
