package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	gwerrors "github.com/odvcencio/modelgateway/pkg/errors"
	"github.com/odvcencio/modelgateway/pkg/metrics"
	"github.com/odvcencio/modelgateway/pkg/txcore"
)

type openTransactionRequest struct {
	ModelURI string `json:"modelUri"`
}

type transactionResponse struct {
	ModelURI string `json:"modelUri"`
	UUID     string `json:"uuid,omitempty"`
}

func (g *Gateway) handleOpenTransaction(w http.ResponseWriter, r *http.Request) {
	var req openTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ModelURI == "" {
		writeError(w, http.StatusBadRequest, gwerrors.New(gwerrors.ErrCodeInvalidInput, "modelUri is required"))
		return
	}

	modelURI := txcore.ModelURI(req.ModelURI)
	tc, err := g.manager.OpenTransaction(r.Context(), modelURI)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	metrics.TransactionsOpened.Inc()
	metrics.TransactionsOpen.Set(float64(g.manager.OpenCount()))

	uuid, _ := tc.GetUUID(r.Context())
	writeJSON(w, http.StatusOK, transactionResponse{ModelURI: req.ModelURI, UUID: uuid})
}

func (g *Gateway) handleCommit(w http.ResponseWriter, r *http.Request) {
	modelURI := txcore.ModelURI(chi.URLParam(r, "modelURI"))
	result, err := g.manager.Commit(r.Context(), modelURI)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	metrics.TransactionsCommitted.Inc()
	metrics.TransactionsOpen.Set(float64(g.manager.OpenCount()))
	writeJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleRollback(w http.ResponseWriter, r *http.Request) {
	modelURI := txcore.ModelURI(chi.URLParam(r, "modelURI"))
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	g.manager.Rollback(r.Context(), modelURI, req.Reason)
	metrics.TransactionsRolledBack.Inc()
	metrics.TransactionsOpen.Set(float64(g.manager.OpenCount()))
	writeJSON(w, http.StatusOK, map[string]bool{"success": false})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	code := gwerrors.GetCode(err)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": string(code)})
}
