package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Signer is the asymmetric signing primitive the ledger holds for its lifetime.
// The private key never leaves the implementation.
type Signer interface {
	// Sign signs the provided digest bytes and returns (signature, signerId, error).
	Sign(digest []byte) (sig []byte, signerId string, err error)

	// PublicKey returns the public key bytes for independent verification.
	PublicKey() []byte

	// SignerID returns the logical identity signatures are attributed to.
	SignerID() string
}

// Verify checks an Ed25519 signature over digest with the given public key.
func Verify(publicKey, digest, sig []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), digest, sig)
}

// LocalSigner is an in-process Ed25519 signer. Suitable for single-node
// deployments; production setups with HSM requirements should use RemoteSigner.
type LocalSigner struct {
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
	signerId string
}

// NewLocalSigner creates a LocalSigner with a freshly generated Ed25519 keypair.
// signerId is a logical identifier for the signer (e.g. "ledger-signer-1").
func NewLocalSigner(signerId string) *LocalSigner {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		// Generation should not fail in normal environments; panic to surface early.
		panic(err)
	}
	return &LocalSigner{
		priv:     priv,
		pub:      pub,
		signerId: signerId,
	}
}

// NewLocalSignerFromSeed derives the keypair from a hex-encoded 32-byte seed so
// the chain signing identity survives process restarts.
func NewLocalSignerFromSeed(signerId, seedHex string) (*LocalSigner, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signer seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &LocalSigner{
		priv:     priv,
		pub:      priv.Public().(ed25519.PublicKey),
		signerId: signerId,
	}, nil
}

// Sign implements Signer.Sign by signing the provided digest using Ed25519.
func (l *LocalSigner) Sign(digest []byte) ([]byte, string, error) {
	if l.priv == nil {
		return nil, "", errors.New("local signer: private key not initialized")
	}
	sig := ed25519.Sign(l.priv, digest)
	return sig, l.signerId, nil
}

// PublicKey returns the Ed25519 public key bytes.
func (l *LocalSigner) PublicKey() []byte {
	return l.pub
}

// SignerID returns the logical signer identity.
func (l *LocalSigner) SignerID() string {
	return l.signerId
}
