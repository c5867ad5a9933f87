// package keys exposes the signing identity of an audit chain so auditors can
// fetch the public key they need to verify events, blocks, reports, and
// exports independently of the service.
package keys

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ChainKey binds a signing key to the chain it signs.
type ChainKey struct {
	ChainID   string    `json:"chainId"`
	SignerId  string    `json:"signerId"`
	Algorithm string    `json:"algorithm"` // e.g., "Ed25519"
	PublicKey string    `json:"publicKey"` // base64-encoded
	AddedAt   time.Time `json:"addedAt"`
}

// Registry maps chains to their signing keys. A process normally hosts one
// chain, but key rotation leaves the old chain's key discoverable alongside
// the new one. Safe for concurrent access.
type Registry struct {
	mtx    sync.RWMutex
	chains map[string]ChainKey
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[string]ChainKey),
	}
}

// RegisterChainSigner records the key a chain is signed with. Overwrites an
// existing entry for the same chain.
func (r *Registry) RegisterChainSigner(chainID, signerId string, pubKey []byte) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.chains[chainID] = ChainKey{
		ChainID:   chainID,
		SignerId:  signerId,
		Algorithm: "Ed25519",
		PublicKey: base64.StdEncoding.EncodeToString(pubKey),
		AddedAt:   time.Now().UTC(),
	}
}

// ChainSigner returns a copy of the key bound to chainID and true, or
// nil,false if missing.
func (r *Registry) ChainSigner(chainID string) (*ChainKey, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	ck, ok := r.chains[chainID]
	if !ok {
		return nil, false
	}
	c := ck
	return &c, true
}

// List returns all registered chain keys.
func (r *Registry) List() []ChainKey {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	out := make([]ChainKey, 0, len(r.chains))
	for _, v := range r.chains {
		out = append(out, v)
	}
	return out
}

// StatusHandler returns an HTTP handler that exposes registry data as JSON.
// Response: { "chains": [ ChainKey, ... ] }
func (r *Registry) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		resp := map[string]interface{}{"chains": r.List()}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
