package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func hexDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := hexDigest("only")
	root, err := merkleRoot([]string{leaf})
	if err != nil {
		t.Fatalf("merkleRoot error: %v", err)
	}
	if root != leaf {
		t.Fatalf("single-leaf root should equal the leaf: root=%s leaf=%s", root, leaf)
	}
}

func TestMerkleRootPairing(t *testing.T) {
	a, b := hexDigest("a"), hexDigest("b")
	root, err := merkleRoot([]string{a, b})
	if err != nil {
		t.Fatalf("merkleRoot error: %v", err)
	}

	ab, _ := hex.DecodeString(a)
	bb, _ := hex.DecodeString(b)
	want := hex.EncodeToString(hashPair(ab, bb))
	if root != want {
		t.Fatalf("two-leaf root mismatch: got=%s want=%s", root, want)
	}
}

func TestMerkleRootOddLeafDuplicatesLast(t *testing.T) {
	a, b, c := hexDigest("a"), hexDigest("b"), hexDigest("c")
	root3, err := merkleRoot([]string{a, b, c})
	if err != nil {
		t.Fatalf("merkleRoot error: %v", err)
	}
	// Odd counts pair the trailing element with itself.
	root4, err := merkleRoot([]string{a, b, c, c})
	if err != nil {
		t.Fatalf("merkleRoot error: %v", err)
	}
	if root3 != root4 {
		t.Fatalf("odd-leaf root should equal duplicated-last root: %s vs %s", root3, root4)
	}
}

func TestMerkleRootDeterministicAndSensitive(t *testing.T) {
	leaves := []string{hexDigest("1"), hexDigest("2"), hexDigest("3"), hexDigest("4"), hexDigest("5")}

	r1, err := merkleRoot(leaves)
	if err != nil {
		t.Fatalf("merkleRoot error: %v", err)
	}
	r2, err := merkleRoot(leaves)
	if err != nil {
		t.Fatalf("merkleRoot error: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("merkle root not deterministic")
	}

	mutated := append([]string{}, leaves...)
	mutated[2] = hexDigest("3-tampered")
	r3, err := merkleRoot(mutated)
	if err != nil {
		t.Fatalf("merkleRoot error: %v", err)
	}
	if r3 == r1 {
		t.Fatalf("merkle root unchanged after leaf mutation")
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	if _, err := merkleRoot(nil); err == nil {
		t.Fatalf("expected error for empty leaf set")
	}
}

func TestMerkleRootRejectsBadLeaf(t *testing.T) {
	if _, err := merkleRoot([]string{"not-hex"}); err == nil {
		t.Fatalf("expected error for non-hex leaf")
	}
}
