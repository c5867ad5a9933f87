package ledger

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/expenseflow/ledger/internal/canonical"
)

// Archiver uploads canonical block JSON to object storage.
type Archiver interface {
	ArchiveBlock(ctx context.Context, b *Block) error
}

// S3Archiver writes canonicalized finalized blocks to S3 paths like:
//
//	s3://<bucket>/<prefix>/blocks/YYYY/MM/DD/block_<number>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials come from the
// environment (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET etc.).
// The prefix may be empty.
func NewS3Archiver(ctx context.Context, bucket string, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// ArchiveBlock canonicalizes the full block and uploads it. The stored object
// is self-contained: header fields, events, Merkle root, and signature, so an
// auditor holding the public key can verify the object without the service.
func (s *S3Archiver) ArchiveBlock(ctx context.Context, b *Block) error {
	if b == nil {
		return fmt.Errorf("nil block")
	}

	canonBytes, err := canonical.Marshal(b)
	if err != nil {
		return fmt.Errorf("canonicalize block %d: %w", b.Number, err)
	}

	upParams := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(b)),
		Body:        bytes.NewReader(canonBytes),
		ContentType: aws.String("application/json"),
		// Server-side encryption with S3-managed keys (SSE-S3).
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	}
	if _, err := s.uploader.Upload(ctx, upParams); err != nil {
		return fmt.Errorf("s3 upload block %d: %w", b.Number, err)
	}
	return nil
}

// ArchiveBlockAndReturnKey uploads the block and returns its object key, for
// callers that persist the S3 pointer alongside the block row.
func (s *S3Archiver) ArchiveBlockAndReturnKey(ctx context.Context, b *Block) (string, error) {
	if b == nil {
		return "", fmt.Errorf("nil block")
	}
	if err := s.ArchiveBlock(ctx, b); err != nil {
		return "", err
	}
	return s.objectKey(b), nil
}

func (s *S3Archiver) objectKey(b *Block) string {
	ts := b.Ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	return path.Join(s.prefix, "blocks",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("block_%06d.json", b.Number),
	)
}
