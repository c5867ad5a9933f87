// package config provides a minimal environment-backed configuration loader
// used by the ledgerd bootstrap (cmd/ledgerd/main.go).
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the runtime config values used by main.go.
type Config struct {
	ListenAddr string // LISTEN_ADDR (default :8080)

	DatabaseURL string // DATABASE_URL (Postgres block mirror; optional)
	ArchiveDir  string // ARCHIVE_DIR (file block mirror for dev; default ./archive)

	BlockCapacity int // BLOCK_CAPACITY (events per block; default 100)

	SignerEndpoint string // SIGNER_ENDPOINT (remote signing service; optional)
	LocalSignerID  string // LOCAL_SIGNER_ID (fallback signer identity)
	SignerSeedHex  string // SIGNER_SEED_HEX (hex ed25519 seed; optional, stable identity across restarts)

	KafkaBrokers []string // KAFKA_BROKERS (comma-separated; optional)
	KafkaTopic   string   // KAFKA_TOPIC

	S3Bucket string // S3_BUCKET (optional)
	S3Prefix string // S3_PREFIX

	AuthJWTSecret string // AUTH_JWT_SECRET (HS256; empty disables auth)

	PublisherQueueSize      int // PUBLISHER_QUEUE_SIZE
	PublisherMaxConcurrency int // PUBLISHER_MAX_CONCURRENCY
}

// LoadFromEnv reads config values from environment variables.
func LoadFromEnv() *Config {
	cfg := &Config{
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		ArchiveDir:     os.Getenv("ARCHIVE_DIR"),
		SignerEndpoint: os.Getenv("SIGNER_ENDPOINT"),
		LocalSignerID:  os.Getenv("LOCAL_SIGNER_ID"),
		SignerSeedHex:  os.Getenv("SIGNER_SEED_HEX"),
		KafkaTopic:     strings.TrimSpace(os.Getenv("KAFKA_TOPIC")),
		S3Bucket:       strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Prefix:       strings.TrimSpace(os.Getenv("S3_PREFIX")),
		AuthJWTSecret:  os.Getenv("AUTH_JWT_SECRET"),
	}

	// sensible defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "./archive"
	}
	if cfg.LocalSignerID == "" {
		cfg.LocalSignerID = "ledger-signer-1"
	}

	cfg.BlockCapacity = envInt("BLOCK_CAPACITY", 0)
	cfg.PublisherQueueSize = envInt("PUBLISHER_QUEUE_SIZE", 0)
	cfg.PublisherMaxConcurrency = envInt("PUBLISHER_MAX_CONCURRENCY", 0)

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			b = strings.TrimSpace(b)
			if b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

func envInt(name string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
