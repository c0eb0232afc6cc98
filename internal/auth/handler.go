package auth

import (
	"net/http"

	"tradearena/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type issueRequest struct {
	UserID string `json:"user_id"`
}

// Issue mints a token for an operator-chosen user. Mounted on the internal API.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: "invalid_json"})
		return
	}
	token, err := h.svc.SignToken(req.UserID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: "missing_field"})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"user_id": req.UserID, "access_token": token})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request, userID string) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": userID})
}
