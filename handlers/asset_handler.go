package handlers

import (
	"fmt"
	"net/http"

	"github.com/ferreirogomes/matricula/models"
	"github.com/ferreirogomes/matricula/services"

	"github.com/go-chi/chi/v5"
)

// AssetHandler lida com requisições HTTP relacionadas a imóveis.
type AssetHandler struct {
	Service *services.RegistryService
}

// NewAssetHandler cria uma nova instância do handler de imóveis.
func NewAssetHandler(s *services.RegistryService) *AssetHandler {
	return &AssetHandler{Service: s}
}

// CreateAsset registra um imóvel e ancora o registro no ledger.
// POST /properties
func (h *AssetHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Matricula     string   `json:"matricula"`
		PreviousOwner string   `json:"previous_owner"`
		CurrentOwner  string   `json:"current_owner"`
		Latitude      *float64 `json:"latitude"`
		Longitude     *float64 `json:"longitude"`
	}
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, r, fmt.Errorf("%w: latitude e longitude são obrigatórias", models.ErrValidation))
		return
	}

	asset, err := h.Service.RegisterAsset(r.Context(), identityFrom(r.Context()), models.RegisterAssetInput{
		Matricula:     req.Matricula,
		PreviousOwner: req.PreviousOwner,
		CurrentOwner:  req.CurrentOwner,
		Latitude:      *req.Latitude,
		Longitude:     *req.Longitude,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// GetAsset obtém um imóvel pela matrícula.
// GET /properties/{matricula}
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.Service.GetAsset(r.Context(), chi.URLParam(r, "matricula"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}
