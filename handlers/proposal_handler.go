package handlers

import (
	"net/http"

	"github.com/ferreirogomes/matricula/models"
	"github.com/ferreirogomes/matricula/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type ProposalHandler struct {
	Service *services.RegistryService
}

func NewProposalHandler(s *services.RegistryService) *ProposalHandler {
	return &ProposalHandler{Service: s}
}

// CreateProposal registra uma oferta do chamador sobre um imóvel.
// POST /proposals
func (h *ProposalHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Matricula  string              `json:"matricula"`
		Amount     decimal.Decimal     `json:"amount"`
		Percentage decimal.NullDecimal `json:"percentage"`
		Note       string              `json:"note"`
	}
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	proposal, err := h.Service.CreateProposal(r.Context(), services.CreateProposalInput{
		AssetID:    req.Matricula,
		Proposer:   identityFrom(r.Context()).Wallet,
		Amount:     req.Amount,
		Percentage: req.Percentage,
		Note:       req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

// DecideProposal aceita ou rejeita uma proposta pendente.
// POST /proposals/{id}/decision
func (h *ProposalHandler) DecideProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision string `json:"decision"`
	}
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, r, err)
		return
	}

	proposal, err := h.Service.DecideProposal(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()).Wallet, decision)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}
