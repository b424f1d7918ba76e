package session

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/takedaservice/nasiya/merchant-core-go/internal/connectivity"
)

// Handler exposes the session authority to the UI shell over the local
// gateway.
type Handler struct {
	auth    *Authority
	monitor *connectivity.Monitor
	logger  *zap.SugaredLogger
}

func NewHandler(auth *Authority, monitor *connectivity.Monitor, logger *zap.SugaredLogger) *Handler {
	return &Handler{auth: auth, monitor: monitor, logger: logger}
}

// State serves the current session projection.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.auth.State())
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.Username == "" || req.Password == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}
	// login needs the network; don't burn a round-trip timeout while the
	// environment is known to be offline
	if !h.monitor.State().IsOnline {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "offline"})
		return
	}
	if !h.auth.Login(r.Context(), req.Username, req.Password) {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.auth.State())
}

type pinRequest struct {
	Pin string `json:"pin"`
}

type verifyPinResponse struct {
	Verified bool     `json:"verified"`
	Session  Snapshot `json:"session"`
}

// VerifyPin runs one attempt through the PIN gate. Rejections are state,
// not errors: the response is always 200 with the attempt outcome and the
// resulting session (including any lockout).
func (h *Handler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	ok := h.auth.VerifyPin(req.Pin)
	h.writeJSON(w, http.StatusOK, verifyPinResponse{Verified: ok, Session: h.auth.State()})
}

func (h *Handler) SetPin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if !h.auth.State().CredentialAuthenticated {
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "not authenticated"})
		return
	}
	if err := h.auth.SetPin(r.Context(), req.Pin); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ResetPinAttempts(w http.ResponseWriter, r *http.Request) {
	h.auth.ResetPinAttempts()
	h.writeJSON(w, http.StatusOK, h.auth.State())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
