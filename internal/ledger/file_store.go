package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore is a simple file-backed block store for dev/testing. Each block is
// written as a JSON file and head.hash tracks the current tip.
type FileStore struct {
	dir string
}

// NewFileStore returns a new FileStore and ensures the directory exists.
func NewFileStore(dir string) *FileStore {
	_ = os.MkdirAll(dir, 0o755)
	return &FileStore{dir: dir}
}

func (f *FileStore) Ping(ctx context.Context) error { return nil }

// InsertBlock writes the block JSON and updates head.hash.
func (f *FileStore) InsertBlock(ctx context.Context, b *Block) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", b.Number, err)
	}
	if err := os.WriteFile(f.blockPath(b.Number), data, 0o644); err != nil {
		return fmt.Errorf("write block %d: %w", b.Number, err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, "head.hash"), []byte(b.Hash), 0o644); err != nil {
		return fmt.Errorf("write head.hash: %w", err)
	}
	return nil
}

// GetBlock reads a persisted block by number.
func (f *FileStore) GetBlock(ctx context.Context, number int) (*Block, error) {
	data, err := os.ReadFile(f.blockPath(number))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("block %d: %w", number, ErrNotFound)
		}
		return nil, err
	}
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal block %d: %w", number, err)
	}
	return &b, nil
}

// Head returns the persisted tip hash, or empty when no block was written yet.
func (f *FileStore) Head() string {
	b, err := os.ReadFile(filepath.Join(f.dir, "head.hash"))
	if err != nil {
		return ""
	}
	return string(b)
}

func (f *FileStore) blockPath(number int) string {
	return filepath.Join(f.dir, fmt.Sprintf("block_%06d.json", number))
}
