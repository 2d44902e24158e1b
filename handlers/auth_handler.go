package handlers

import (
	"net/http"

	"github.com/ferreirogomes/matricula/services"
)

// AuthHandler lida com o login por carteira e com a atribuição de papéis.
type AuthHandler struct {
	Service *services.AuthService
}

func NewAuthHandler(s *services.AuthService) *AuthHandler {
	return &AuthHandler{Service: s}
}

// StartSIWE emite um nonce. O corpo é opcional.
// POST /auth/siwe/start
func (h *AuthHandler) StartSIWE(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	challenge, err := h.Service.StartAuthentication(r.Context(), req.Wallet)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

// VerifySIWE confere a assinatura e devolve o token de sessão.
// POST /auth/siwe/verify
func (h *AuthHandler) VerifySIWE(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Message   string `json:"message"`
		Signature string `json:"signature"`
		Nonce     string `json:"nonce"`
	}
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.Service.CompleteAuthentication(r.Context(), services.CompleteAuthInput{
		Address:   req.Address,
		Message:   req.Message,
		Signature: req.Signature,
		Nonce:     req.Nonce,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// AssignRole define o papel de uma carteira.
// POST /admin/assign-role
func (h *AuthHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet      string `json:"wallet"`
		Role        string `json:"role"`
		AdminSecret string `json:"admin_secret"`
	}
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.Service.AssignRole(r.Context(), req.AdminSecret, req.Wallet, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "wallet": user.Wallet, "role": user.Role})
}
