package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// merkleRoot computes a binary Merkle root over hex-encoded leaf digests.
// Adjacent leaves are paired left to right; an odd element at any level is
// paired with itself. A single leaf is its own root.
func merkleRoot(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return "", fmt.Errorf("merkle root of empty leaf set")
	}
	level := make([][]byte, 0, len(leaves))
	for i, l := range leaves {
		b, err := hex.DecodeString(l)
		if err != nil {
			return "", fmt.Errorf("decode leaf %d: %w", i, err)
		}
		level = append(level, b)
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}
	return hex.EncodeToString(level[0]), nil
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
