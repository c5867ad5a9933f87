package signer

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// remoteSigner delegates signing to an external signing service (KMS/HSM front).
// It is the pluggable extension point for deployments where the chain key must
// not live in process memory. Signing failures are returned to the caller as-is;
// there is no local fallback, because a silently substituted key would break
// non-repudiation of the chain.
type remoteSigner struct {
	endpoint    string
	client      *http.Client
	signerId    string
	bearerToken string
	publicKey   []byte
}

// NewRemoteSigner creates a signer backed by the signing service at endpoint.
// The service must expose POST /signData and POST /publicKey. Returns an error
// when the public key cannot be fetched, since a signer whose key verifiers
// cannot discover is useless for an audit chain.
func NewRemoteSigner(endpoint string) (Signer, error) {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		return nil, errors.New("signer endpoint required")
	}

	signerId := os.Getenv("SIGNER_ID")
	if signerId == "" {
		signerId = "ledger-signer-remote"
	}
	bearer := os.Getenv("SIGNER_BEARER_TOKEN")

	timeoutMs := 5000
	if v := os.Getenv("SIGNER_TIMEOUT_MS"); v != "" {
		if t, err := strconv.Atoi(v); err == nil && t > 0 {
			timeoutMs = t
		}
	}

	tlsCfg, err := loadClientTLS()
	if err != nil {
		return nil, err
	}
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
		Timeout:   time.Duration(timeoutMs) * time.Millisecond,
	}

	rs := &remoteSigner{
		endpoint:    endpoint,
		client:      client,
		signerId:    signerId,
		bearerToken: bearer,
	}

	pk, err := rs.fetchPublicKey()
	if err != nil {
		return nil, fmt.Errorf("fetch signer public key: %w", err)
	}
	rs.publicKey = pk
	return rs, nil
}

// loadClientTLS builds an optional mTLS client config from
// SIGNER_MTLS_CERT_PATH / SIGNER_MTLS_KEY_PATH / SIGNER_MTLS_CA_PATH.
func loadClientTLS() (*tls.Config, error) {
	certPath := os.Getenv("SIGNER_MTLS_CERT_PATH")
	keyPath := os.Getenv("SIGNER_MTLS_KEY_PATH")
	caPath := os.Getenv("SIGNER_MTLS_CA_PATH")

	var cfg *tls.Config
	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load signer mTLS cert/key: %w", err)
		}
		cfg = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	if caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read signer CA bundle: %w", err)
		}
		cp := x509.NewCertPool()
		if !cp.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("parse signer CA bundle at %s", caPath)
		}
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		cfg.RootCAs = cp
	}
	return cfg, nil
}

// PublicKey returns the public key fetched from the signing service at startup.
func (r *remoteSigner) PublicKey() []byte {
	return r.publicKey
}

// SignerID returns the configured remote signer identity.
func (r *remoteSigner) SignerID() string {
	return r.signerId
}

// Sign requests a signature for the provided digest from POST /signData.
func (r *remoteSigner) Sign(digest []byte) ([]byte, string, error) {
	reqBody := map[string]string{
		"signerId": r.signerId,
		"data":     base64.StdEncoding.EncodeToString(digest),
	}

	var resp struct {
		Signature string `json:"signature"`
		SignerId  string `json:"signerId"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.client.Timeout)
	defer cancel()

	if err := r.postJSON(ctx, r.endpoint+"/signData", reqBody, &resp); err != nil {
		return nil, "", fmt.Errorf("signing service: %w", err)
	}
	if resp.Signature == "" {
		return nil, "", errors.New("signing service returned no signature")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 signature from signing service: %w", err)
	}
	sid := r.signerId
	if resp.SignerId != "" {
		sid = resp.SignerId
	}
	return sigBytes, sid, nil
}

// fetchPublicKey obtains the signer public key via POST /publicKey.
// Expected response: { "publicKey": "<base64>" }
func (r *remoteSigner) fetchPublicKey() ([]byte, error) {
	req := map[string]string{"signerId": r.signerId}
	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.client.Timeout)
	defer cancel()
	if err := r.postJSON(ctx, r.endpoint+"/publicKey", req, &resp); err != nil {
		return nil, err
	}
	if resp.PublicKey == "" {
		return nil, errors.New("signing service returned no public key")
	}
	pk, err := base64.StdEncoding.DecodeString(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 public key: %w", err)
	}
	return pk, nil
}

func (r *remoteSigner) postJSON(ctx context.Context, url string, in interface{}, out interface{}) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearerToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("signing service HTTP %d: %s", resp.StatusCode, string(b))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
