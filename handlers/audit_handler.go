package handlers

import (
	"net/http"

	"github.com/ferreirogomes/matricula/services"

	"github.com/go-chi/chi/v5"
)

// AuditHandler expõe as validações e as visões de auditoria.
type AuditHandler struct {
	Service *services.RegistryService
}

func NewAuditHandler(s *services.RegistryService) *AuditHandler {
	return &AuditHandler{Service: s}
}

// Validate dispara a checagem de quórum de uma transação.
// POST /validations
func (h *AuditHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxRef        string `json:"tx_ref"`
		ForceInvalid bool   `json:"force_invalid"`
	}
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	record, err := h.Service.Validate(r.Context(), req.TxRef, req.ForceInvalid, identityFrom(r.Context()).Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// AssetHistory devolve o imóvel com propostas e transferências.
// GET /audit/properties/{matricula}
func (h *AuditHandler) AssetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Service.AssetHistory(r.Context(), chi.URLParam(r, "matricula"), identityFrom(r.Context()).Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// GET /audit/transfers
func (h *AuditHandler) Transfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.Service.AllTransfers(r.Context(), identityFrom(r.Context()).Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

// GET /audit/proposals
func (h *AuditHandler) Proposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.Service.AllProposals(r.Context(), identityFrom(r.Context()).Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposals)
}

// GET /audit/validations
func (h *AuditHandler) Validations(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.ValidationLog(r.Context(), identityFrom(r.Context()).Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
