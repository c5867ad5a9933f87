package ledger

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Announcer is the subset of KafkaAnnouncer behavior the publisher needs.
type Announcer interface {
	AnnounceBlock(ctx context.Context, b *Block) error
	Close() error
}

// PublisherConfig configures the block publisher.
type PublisherConfig struct {
	// QueueSize bounds the finalized-block queue. Defaults to 256.
	QueueSize int

	// MaxConcurrency bounds concurrent sink fan-out per block batch.
	// Defaults to 4.
	MaxConcurrency int
}

// Publisher drains finalized blocks to the configured sinks (durable store,
// S3 archive, Kafka announcement) off the writer path. The in-memory chain is
// authoritative; sink failures are logged and never propagate back to Record.
type Publisher struct {
	store     BlockStore
	archiver  Archiver
	announcer Announcer
	cfg       PublisherConfig

	ch       chan *Block
	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{}
}

// NewPublisher constructs a publisher. Any sink may be nil; nil sinks are
// skipped.
func NewPublisher(store BlockStore, archiver Archiver, announcer Announcer, cfg PublisherConfig) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Publisher{
		store:     store,
		archiver:  archiver,
		announcer: announcer,
		cfg:       cfg,
		ch:        make(chan *Block, cfg.QueueSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Enqueue hands a finalized block to the publisher without blocking the
// writer. When the queue is full the block is dropped from the mirror queue
// and logged; the chain itself still holds it.
func (p *Publisher) Enqueue(b *Block) {
	select {
	case p.ch <- b:
	default:
		log.Printf("[ledger.publisher] queue full, dropping block %d from mirror queue", b.Number)
	}
}

// Run starts the publisher loop and blocks until ctx is cancelled or Shutdown
// is called. Safe to run in a goroutine. Each queued block is mirrored to the
// sinks with bounded concurrency across blocks. Cancellation stops immediately
// and may strand queued blocks; Shutdown drains the queue first.
func (p *Publisher) Run(ctx context.Context) error {
	log.Printf("[ledger.publisher] starting (queue=%d, concurrency=%d)", p.cfg.QueueSize, p.cfg.MaxConcurrency)
	defer log.Printf("[ledger.publisher] stopped")
	defer close(p.stopped)

	sem := make(chan struct{}, p.cfg.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			if p.announcer != nil {
				_ = p.announcer.Close()
			}
			return ctx.Err()
		case <-p.quit:
			return p.drain(ctx)
		case blk := <-p.ch:
			sem <- struct{}{}
			p.wg.Add(1)
			go func(b *Block) {
				defer func() {
					<-sem
					p.wg.Done()
				}()
				if err := p.publishBlock(ctx, b); err != nil {
					log.Printf("[ledger.publisher] block %d: %v", b.Number, err)
				}
			}(blk)
		}
	}
}

// drain mirrors whatever is still queued, waits for in-flight publishes, and
// closes the announcer. Called by Run on the Shutdown path; ctx must still be
// live so sink calls can complete.
func (p *Publisher) drain(ctx context.Context) error {
	for {
		select {
		case blk := <-p.ch:
			if err := p.publishBlock(ctx, blk); err != nil {
				log.Printf("[ledger.publisher] block %d: %v", blk.Number, err)
			}
		default:
			p.wg.Wait()
			if p.announcer != nil {
				_ = p.announcer.Close()
			}
			return nil
		}
	}
}

// Shutdown asks the running loop to drain the queue and stop, and blocks until
// the loop has exited or ctx expires. The final pre-exit block is mirrored
// before Run returns, so callers can Finalize, Enqueue, then Shutdown.
func (p *Publisher) Shutdown(ctx context.Context) error {
	p.quitOnce.Do(func() { close(p.quit) })
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publishBlock performs the store -> archive -> announce sequence for one
// block with a per-block deadline.
func (p *Publisher) publishBlock(parentCtx context.Context, b *Block) error {
	ctx, cancel := context.WithTimeout(parentCtx, 30*time.Second)
	defer cancel()

	if p.store != nil {
		if err := p.store.InsertBlock(ctx, b); err != nil {
			return fmt.Errorf("store block: %w", err)
		}
	}
	if p.archiver != nil {
		if err := p.archiver.ArchiveBlock(ctx, b); err != nil {
			return fmt.Errorf("archive block: %w", err)
		}
	}
	if p.announcer != nil {
		if err := p.announcer.AnnounceBlock(ctx, b); err != nil {
			return fmt.Errorf("announce block: %w", err)
		}
	}
	log.Printf("[ledger.publisher] block %d mirrored (events=%d hash=%s)", b.Number, len(b.Events), b.Hash)
	return nil
}
