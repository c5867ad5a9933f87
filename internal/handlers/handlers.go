package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/expenseflow/ledger/internal/auth"
	"github.com/expenseflow/ledger/internal/keys"
	"github.com/expenseflow/ledger/internal/ledger"
)

// App holds the shared dependencies the ledger HTTP surface needs.
type App struct {
	Ledger   *ledger.Ledger
	Store    ledger.BlockStore // optional mirror, used by /ready
	Registry *keys.Registry

	// AuthSecret enables bearer-token auth and role checks when non-empty.
	AuthSecret []byte
}

// RegisterRoutes wires the ledger HTTP routes.
func RegisterRoutes(app *App, r chi.Router) {
	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady(app.Store))

	r.Get("/ledger/security/status", app.Registry.StatusHandler())

	r.Group(func(r chi.Router) {
		if len(app.AuthSecret) > 0 {
			r.Use(auth.NewMiddleware(app.AuthSecret))
		}

		r.Post("/ledger/events", handleRecord(app.Ledger))
		r.Get("/ledger/verify", handleVerify(app.Ledger))
		r.Get("/ledger/statistics", handleStatistics(app.Ledger))
		r.Get("/ledger/blocks/{number}", handleBlockGet(app.Ledger))

		// Reports and exports carry full event contents; restrict to auditors
		// when auth is enabled.
		r.Group(func(r chi.Router) {
			if len(app.AuthSecret) > 0 {
				r.Use(auth.RequireRole(auth.RoleAuditor))
			}
			r.Post("/ledger/reports", handleReport(app.Ledger))
			r.Post("/ledger/exports", handleExport(app.Ledger))
		})
	})
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "ts": time.Now().UTC()})
}

func handleReady(store ledger.BlockStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "block store not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
	}
}

// POST /ledger/events
// Accepts { action, actor, resource, resourceId, details?, metadata? }.
func handleRecord(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in ledger.RecordInput
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&in); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}

		receipt, err := l.Record(r.Context(), in)
		if err != nil {
			if errors.Is(err, ledger.ErrInvalidEvent) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "record event: "+err.Error(), http.StatusInternalServerError)
			return
		}
		// 202: the event is buffered; the block seals at capacity or on flush.
		writeJSON(w, http.StatusAccepted, receipt)
	}
}

// GET /ledger/verify
func handleVerify(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, l.VerifyChain(r.Context()))
	}
}

// GET /ledger/statistics
func handleStatistics(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, l.Statistics())
	}
}

// GET /ledger/blocks/{number}
func handleBlockGet(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "number")
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid block number", http.StatusBadRequest)
			return
		}
		blk, err := l.Block(n)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			http.Error(w, "get block: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, blk)
	}
}

// POST /ledger/reports
// Accepts a ledger.ReportRequest body.
func handleReport(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ledger.ReportRequest
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}

		report, err := l.GenerateReport(r.Context(), req)
		if err != nil {
			http.Error(w, "generate report: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// POST /ledger/exports
// Accepts { standard: string, request: ReportRequest }.
func handleExport(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Standard string               `json:"standard"`
			Request  ledger.ReportRequest `json:"request"`
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if body.Standard == "" {
			http.Error(w, "standard required", http.StatusBadRequest)
			return
		}

		export, err := l.CreateComplianceExport(r.Context(), body.Standard, body.Request)
		if err != nil {
			if errors.Is(err, ledger.ErrInvalidEvent) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "create export: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, export)
	}
}

// helper JSON writer
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
