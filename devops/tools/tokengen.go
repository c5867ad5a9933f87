package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// b64u is base64url no padding
func b64u(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

// tokengen produces local-dev material for the ledger service: a hex Ed25519
// seed for LEDGER_SIGNER_SEED and an HS256 bearer token for the HTTP surface.
func main() {
	secret := flag.String("secret", "", "HS256 shared secret (required)")
	sub := flag.String("sub", "dev-user", "token subject (sub)")
	roles := flag.String("roles", "Producer,Auditor", "comma-separated roles claim")
	seedOut := flag.String("seed-out", "devops/certs/signer_seed.hex", "signer seed output path")
	tokenOut := flag.String("token-out", "devops/certs/dev_jwt.txt", "JWT output path")
	expSecs := flag.Int("exp-secs", 3600, "token expiry in seconds")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -secret <shared secret> [-sub ...] [-roles ...]")
		os.Exit(2)
	}

	// Ed25519 seed (32 bytes, hex) for a restart-stable signing identity.
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	must(err)
	if err := os.MkdirAll(dirOf(*seedOut), 0o755); err != nil {
		must(err)
	}
	must(os.WriteFile(*seedOut, []byte(hex.EncodeToString(seed)+"\n"), 0o600))
	fmt.Printf("wrote signer seed -> %s\n", *seedOut)

	// Build JWT header + payload and sign with HS256.
	header := map[string]interface{}{"alg": "HS256", "typ": "JWT"}
	now := time.Now().Unix()
	payload := map[string]interface{}{
		"sub":   *sub,
		"exp":   now + int64(*expSecs),
		"iat":   now,
		"roles": strings.Split(*roles, ","),
	}

	hb, err := json.Marshal(header)
	must(err)
	pb, err := json.Marshal(payload)
	must(err)

	signingInput := b64u(hb) + "." + b64u(pb)
	mac := hmac.New(sha256.New, []byte(*secret))
	mac.Write([]byte(signingInput))
	token := signingInput + "." + b64u(mac.Sum(nil))

	if err := os.MkdirAll(dirOf(*tokenOut), 0o755); err != nil {
		must(err)
	}
	must(os.WriteFile(*tokenOut, []byte(token+"\n"), 0o600))
	fmt.Printf("wrote token -> %s\n", *tokenOut)
}

// dirOf returns the directory part of a path (or "." if none)
func dirOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			if i == 0 {
				return "/"
			}
			return p[:i]
		}
	}
	return "."
}
