package handlers

import (
	"net/http"

	"github.com/ferreirogomes/matricula/models"
	"github.com/ferreirogomes/matricula/services"

	"github.com/go-chi/chi/v5"
)

// TransferHandler conduz a transferência multiassinatura de uma proposta aceita.
type TransferHandler struct {
	Service *services.RegistryService
}

func NewTransferHandler(s *services.RegistryService) *TransferHandler {
	return &TransferHandler{Service: s}
}

// InitiateTransfer abre (ou devolve) a transferência da proposta.
// POST /transfers/{proposalID}
func (h *TransferHandler) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.Service.InitiateTransfer(r.Context(), chi.URLParam(r, "proposalID"), identityFrom(r.Context()).Wallet)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

// SignTransfer registra a assinatura ou a rejeição do chamador. Sem corpo, assina.
// POST /transfers/{proposalID}/sign
func (h *TransferHandler) SignTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	action := models.ActionSign
	if req.Action != "" {
		var err error
		if action, err = models.ParseSignatureAction(req.Action); err != nil {
			writeError(w, r, err)
			return
		}
	}

	transfer, err := h.Service.ApplySignature(r.Context(), chi.URLParam(r, "proposalID"), identityFrom(r.Context()), action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}
