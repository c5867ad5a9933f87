package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/ledger/internal/auth"
	"github.com/expenseflow/ledger/internal/handlers"
	"github.com/expenseflow/ledger/internal/keys"
	"github.com/expenseflow/ledger/internal/ledger"
	"github.com/expenseflow/ledger/internal/signer"
)

var testSecret = []byte("handlers-test-secret")

func newTestServer(t *testing.T, secret []byte) (*httptest.Server, *ledger.Ledger) {
	t.Helper()
	sgn := signer.NewLocalSigner("test-signer")
	chain, err := ledger.New(sgn, ledger.Options{BlockCapacity: 100})
	require.NoError(t, err)

	registry := keys.NewRegistry()
	registry.RegisterChainSigner(chain.ChainID(), sgn.SignerID(), sgn.PublicKey())

	r := chi.NewRouter()
	handlers.RegisterRoutes(&handlers.App{
		Ledger:     chain,
		Registry:   registry,
		AuthSecret: secret,
	}, r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, chain
}

func token(t *testing.T, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "test-caller",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, method, url, bearer string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndSecurityStatusArePublic(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/ledger/security/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Chains []keys.ChainKey `json:"chains"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Len(t, status.Chains, 1)
	assert.Equal(t, "test-signer", status.Chains[0].SignerId)
	assert.NotEmpty(t, status.Chains[0].ChainID)
}

func TestRecordEvent(t *testing.T) {
	srv, chain := newTestServer(t, testSecret)

	resp := doJSON(t, http.MethodPost, srv.URL+"/ledger/events", token(t, auth.RoleProducer), ledger.RecordInput{
		Action:     "expense.approved",
		Actor:      "alice",
		Resource:   "expense",
		ResourceID: "exp-1",
		Details:    map[string]interface{}{"amount": "42.00"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var receipt ledger.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	assert.NotEmpty(t, receipt.EventID)
	assert.Equal(t, 1, receipt.BlockNumber)
	assert.Len(t, receipt.ContentDigest, 64)

	assert.Equal(t, 1, chain.Statistics().PendingCount)
}

func TestRecordEventValidation(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	// Missing action.
	resp := doJSON(t, http.MethodPost, srv.URL+"/ledger/events", token(t, auth.RoleProducer), ledger.RecordInput{
		Actor:      "alice",
		Resource:   "expense",
		ResourceID: "exp-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	resp := doJSON(t, http.MethodPost, srv.URL+"/ledger/events", "", ledger.RecordInput{
		Action: "x", Actor: "y", Resource: "z", ResourceID: "1",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/ledger/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/ledger/statistics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/ledger/reports", "", ledger.ReportRequest{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVerifyEndpoint(t *testing.T) {
	srv, chain := newTestServer(t, testSecret)
	_, err := chain.Record(context.Background(), ledger.RecordInput{
		Action: "expense.approved", Actor: "alice", Resource: "expense", ResourceID: "exp-1",
	})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodGet, srv.URL+"/ledger/verify", token(t, auth.RoleProducer), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report ledger.VerificationReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.True(t, report.Valid)
	assert.Equal(t, 1, report.TotalBlocks)
}

func TestBlockEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	resp := doJSON(t, http.MethodGet, srv.URL+"/ledger/blocks/0", token(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var blk ledger.Block
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&blk))
	assert.Equal(t, 0, blk.Number)
	assert.Equal(t, ledger.GenesisPreviousHash, blk.PreviousHash)

	resp = doJSON(t, http.MethodGet, srv.URL+"/ledger/blocks/99", token(t), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/ledger/blocks/abc", token(t), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReportsRequireAuditorRole(t *testing.T) {
	srv, _ := newTestServer(t, testSecret)

	resp := doJSON(t, http.MethodPost, srv.URL+"/ledger/reports", token(t, auth.RoleProducer), ledger.ReportRequest{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/ledger/reports", token(t, auth.RoleAuditor), ledger.ReportRequest{IncludePending: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report ledger.AuditReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.NotEmpty(t, report.ReportID)
	assert.NotEmpty(t, report.ReportSignature)
}

func TestExportEndpoint(t *testing.T) {
	srv, chain := newTestServer(t, testSecret)
	recordSample(t, chain)

	resp := doJSON(t, http.MethodPost, srv.URL+"/ledger/exports", token(t, auth.RoleAuditor), map[string]interface{}{
		"standard": ledger.StandardSOX,
		"request":  ledger.ReportRequest{Actor: "alice", IncludePending: true},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var export ledger.LegalExport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&export))
	assert.Equal(t, ledger.StandardSOX, export.Standard)
	assert.NotEmpty(t, export.Disclaimer)
	assert.Len(t, export.Events, 1)

	ok, err := ledger.VerifyExportSignature(&export)
	require.NoError(t, err)
	assert.True(t, ok)

	// Missing standard is a client error.
	resp = doJSON(t, http.MethodPost, srv.URL+"/ledger/exports", token(t, auth.RoleAuditor), map[string]interface{}{
		"request": ledger.ReportRequest{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func recordSample(t *testing.T, chain *ledger.Ledger) {
	t.Helper()
	_, err := chain.Record(context.Background(), ledger.RecordInput{
		Action:     "expense.approved",
		Actor:      "alice",
		Resource:   "expense",
		ResourceID: "exp-1",
	})
	require.NoError(t, err)
}
