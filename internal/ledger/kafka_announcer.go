package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaAnnouncerConfig contains configurable parameters for the announcer.
type KafkaAnnouncerConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic receives block finalization announcements.
	Topic string

	// MaxAttempts is how many times a produce is retried on transient error.
	// Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout for Write operations.
	// Defaults to 10s if zero.
	WriteTimeout time.Duration

	// Balancer decides partition selection. If nil, a Hash balancer is used
	// so announcements for the same chain key land on the same partition.
	Balancer kafka.Balancer
}

// KafkaAnnouncer publishes finalized block headers to Kafka so downstream
// consumers (alerting, mirrors, SIEM ingestion) learn about new blocks without
// polling the ledger.
type KafkaAnnouncer struct {
	writer      *kafka.Writer
	topic       string
	maxAttempts int
}

// NewKafkaAnnouncer constructs a KafkaAnnouncer.
func NewKafkaAnnouncer(cfg KafkaAnnouncerConfig) (*KafkaAnnouncer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     cfg.Balancer,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		// Async=false so WriteMessages returns after the writer pipeline
		// acknowledged the message (within WriteTimeout).
		Async: false,
	})

	return &KafkaAnnouncer{
		writer:      w,
		topic:       cfg.Topic,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// AnnounceBlock publishes the block's compact header, keyed by block hash.
// Retries with capped exponential backoff before giving up.
func (a *KafkaAnnouncer) AnnounceBlock(ctx context.Context, b *Block) error {
	value, err := json.Marshal(b.Header())
	if err != nil {
		return fmt.Errorf("marshal block header: %w", err)
	}

	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		msg := kafka.Message{
			Key:   []byte(b.Hash),
			Value: value,
			Time:  time.Now().UTC(),
		}

		ctxAttempt, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.writer.WriteMessages(ctxAttempt, msg)
		cancel()

		if err == nil {
			return nil
		}

		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("announce block %d failed after %d attempts: %w", b.Number, a.maxAttempts, lastErr)
}

// Close shuts down the underlying writer and releases resources.
func (a *KafkaAnnouncer) Close() error {
	if a == nil || a.writer == nil {
		return nil
	}
	return a.writer.Close()
}
