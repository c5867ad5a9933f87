package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/expenseflow/ledger/internal/config"
	"github.com/expenseflow/ledger/internal/handlers"
	"github.com/expenseflow/ledger/internal/keys"
	"github.com/expenseflow/ledger/internal/ledger"
	"github.com/expenseflow/ledger/internal/signer"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.LoadFromEnv()

	// Database (optional block mirror)
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		log.Println("connected to postgres")
	}

	// Signer: remote signing service when configured; otherwise an in-process
	// Ed25519 signer (seeded for a stable identity when SIGNER_SEED_HEX is set).
	var signClient signer.Signer
	if cfg.SignerEndpoint != "" {
		rs, err := signer.NewRemoteSigner(cfg.SignerEndpoint)
		if err != nil {
			log.Fatalf("failed to initialize remote signer: %v", err)
		}
		signClient = rs
		log.Printf("remote signer configured (endpoint=%s)", cfg.SignerEndpoint)
	} else if cfg.SignerSeedHex != "" {
		ls, err := signer.NewLocalSignerFromSeed(cfg.LocalSignerID, cfg.SignerSeedHex)
		if err != nil {
			log.Fatalf("failed to initialize seeded local signer: %v", err)
		}
		signClient = ls
	} else {
		signClient = signer.NewLocalSigner(cfg.LocalSignerID)
	}

	// Block mirror: Postgres when DB present, otherwise local file store for dev.
	var store ledger.BlockStore
	if db != nil {
		store = ledger.NewPGStore(db)
	} else {
		store = ledger.NewFileStore(cfg.ArchiveDir)
	}

	// Optional Kafka announcements of finalized blocks.
	var announcer ledger.Announcer
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		ka, err := ledger.NewKafkaAnnouncer(ledger.KafkaAnnouncerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("failed to initialize kafka announcer: %v", err)
		}
		announcer = ka
		log.Printf("kafka announcer initialized (brokers=%v topic=%s)", cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		log.Println("kafka announcer not started: KAFKA_BROKERS and KAFKA_TOPIC must be set to enable")
	}

	// Optional S3 archive of canonical block JSON.
	var archiver ledger.Archiver
	if cfg.S3Bucket != "" {
		s3a, err := ledger.NewS3Archiver(context.Background(), cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			log.Fatalf("failed to initialize s3 archiver: %v", err)
		}
		archiver = s3a
		log.Printf("s3 archiver initialized (bucket=%s prefix=%s)", cfg.S3Bucket, cfg.S3Prefix)
	}

	publisher := ledger.NewPublisher(store, archiver, announcer, ledger.PublisherConfig{
		QueueSize:      cfg.PublisherQueueSize,
		MaxConcurrency: cfg.PublisherMaxConcurrency,
	})

	chain, err := ledger.New(signClient, ledger.Options{
		BlockCapacity: cfg.BlockCapacity,
		OnFinalize:    publisher.Enqueue,
	})
	if err != nil {
		log.Fatalf("failed to initialize ledger: %v", err)
	}
	log.Printf("ledger initialized (chain=%s blocks=%d)", chain.ChainID(), chain.ChainLength())

	publisherCtx, publisherCancel := context.WithCancel(context.Background())
	go func() {
		if err := publisher.Run(publisherCtx); err != nil && err != context.Canceled {
			log.Printf("[ledger.publisher] exited with error: %v", err)
		}
	}()

	// Key registry - bind the chain to its signing key so auditors can
	// discover the public key they verify against.
	reg := keys.NewRegistry()
	if pk := chain.PublicKey(); pk != nil {
		reg.RegisterChainSigner(chain.ChainID(), signClient.SignerID(), pk)
		log.Printf("registered signer %s for chain %s", signClient.SignerID(), chain.ChainID())
	}

	app := &handlers.App{
		Ledger:     chain,
		Store:      store,
		Registry:   reg,
		AuthSecret: []byte(cfg.AuthJWTSecret),
	}
	if cfg.AuthJWTSecret == "" {
		log.Println("AUTH_JWT_SECRET not configured; ledger endpoints are unauthenticated")
	}

	r := chi.NewRouter()
	handlers.RegisterRoutes(app, r)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting ledgerd on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}

	// Seal whatever is pending so the mirror is complete before exit.
	if blk, err := chain.Finalize(context.Background()); err != nil {
		log.Printf("final flush failed: %v", err)
	} else if blk != nil {
		log.Printf("final flush sealed block %d (events=%d)", blk.Number, len(blk.Events))
	}

	// Drain the mirror queue before exiting, so the final flushed block
	// reaches the sinks. Cancel only after the drain, since the publisher's
	// sink calls run under publisherCtx.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := publisher.Shutdown(drainCtx); err != nil {
		log.Printf("publisher drain timed out: %v", err)
	}
	drainCancel()
	publisherCancel()

	if db != nil {
		_ = db.Close()
	}
	log.Println("server stopped")
}
