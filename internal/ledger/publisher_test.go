package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/expenseflow/ledger/internal/ledger"
	"github.com/expenseflow/ledger/internal/signer"
)

type fakeStore struct {
	mu      sync.Mutex
	inserts []int
	failOn  int
}

func (f *fakeStore) InsertBlock(ctx context.Context, b *ledger.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != 0 && b.Number == f.failOn {
		return errors.New("store unavailable")
	}
	f.inserts = append(f.inserts, b.Number)
	return nil
}

func (f *fakeStore) GetBlock(ctx context.Context, number int) (*ledger.Block, error) {
	return nil, ledger.ErrNotFound
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) inserted() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int{}, f.inserts...)
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []int
}

func (f *fakeArchiver) ArchiveBlock(ctx context.Context, b *ledger.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, b.Number)
	return nil
}

func (f *fakeArchiver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.archived)
}

type fakeAnnouncer struct {
	mu        sync.Mutex
	announced []int
	closed    bool
	done      chan int
}

func (f *fakeAnnouncer) AnnounceBlock(ctx context.Context, b *ledger.Block) error {
	f.mu.Lock()
	f.announced = append(f.announced, b.Number)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- b.Number
	}
	return nil
}

func (f *fakeAnnouncer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAnnouncer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestPublisherMirrorsFinalizedBlocks(t *testing.T) {
	store := &fakeStore{}
	archiver := &fakeArchiver{}
	announcer := &fakeAnnouncer{done: make(chan int, 8)}

	pub := ledger.NewPublisher(store, archiver, announcer, ledger.PublisherConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		_ = pub.Run(ctx)
		close(runDone)
	}()

	l, err := ledger.New(signer.NewLocalSigner("test-signer"), ledger.Options{
		BlockCapacity: 3,
		OnFinalize:    pub.Enqueue,
	})
	if err != nil {
		t.Fatalf("ledger.New error: %v", err)
	}
	recordN(t, l, 6, "alice") // genesis + 2 sealed blocks enqueue themselves

	// Announce is the last sink in the sequence; seeing all three block
	// numbers means store and archive ran first.
	seen := map[int]bool{}
	for len(seen) < 3 {
		select {
		case n := <-announcer.done:
			seen[n] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for announcements, saw %v", seen)
		}
	}

	if got := store.inserted(); len(got) != 3 {
		t.Fatalf("expected 3 stored blocks, got %v", got)
	}
	if archiver.count() != 3 {
		t.Fatalf("expected 3 archived blocks, got %d", archiver.count())
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("publisher did not stop after cancel")
	}
	if !announcer.isClosed() {
		t.Fatalf("announcer should be closed on shutdown")
	}
}

func TestPublisherSinkFailureDoesNotStopLoop(t *testing.T) {
	store := &fakeStore{failOn: 1}
	announcer := &fakeAnnouncer{done: make(chan int, 8)}

	pub := ledger.NewPublisher(store, nil, announcer, ledger.PublisherConfig{MaxConcurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pub.Run(ctx) }()

	l := newTestLedger(t, 2)
	recordN(t, l, 4, "bob") // seals blocks 1 and 2
	for i := 0; i < l.ChainLength(); i++ {
		blk, err := l.Block(i)
		if err != nil {
			t.Fatalf("Block(%d) error: %v", i, err)
		}
		pub.Enqueue(blk)
	}

	// Block 1 fails at the store and never reaches announce; 0 and 2 do.
	seen := map[int]bool{}
	for len(seen) < 2 {
		select {
		case n := <-announcer.done:
			seen[n] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if seen[1] {
		t.Fatalf("block 1 should not have been announced after store failure")
	}
	if !seen[0] || !seen[2] {
		t.Fatalf("blocks 0 and 2 should have been announced, saw %v", seen)
	}
}

func TestPublisherShutdownDrainsQueuedBlocks(t *testing.T) {
	store := &fakeStore{}
	announcer := &fakeAnnouncer{}

	pub := ledger.NewPublisher(store, nil, announcer, ledger.PublisherConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pub.Run(ctx) }()

	// The shutdown sequence: seal the tail, enqueue it, then drain. The block
	// enqueued immediately before Shutdown must still reach the sinks.
	l := newTestLedger(t, 100)
	recordN(t, l, 2, "alice")
	blk, err := l.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	pub.Enqueue(blk)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := pub.Shutdown(drainCtx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	if got := store.inserted(); len(got) != 1 || got[0] != blk.Number {
		t.Fatalf("final block not mirrored before exit: stored %v", got)
	}
	if !announcer.isClosed() {
		t.Fatalf("announcer should be closed after drain")
	}
}

func TestPublisherEnqueueNeverBlocks(t *testing.T) {
	// No Run loop draining: the queue fills and extra blocks are dropped.
	pub := ledger.NewPublisher(&fakeStore{}, nil, nil, ledger.PublisherConfig{QueueSize: 1})

	l := newTestLedger(t, 100)
	recordN(t, l, 1, "carol")
	blk, err := l.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			pub.Enqueue(blk)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Enqueue blocked on a full queue")
	}
}
