package positions

import (
	"net/http"
	"strings"

	"tradearena/internal/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	closer *Closer
}

func NewHandler(closer *Closer) *Handler {
	return &Handler{closer: closer}
}

type closeRequest struct {
	CompetitionID string           `json:"competition_id"`
	PositionID    string           `json:"position_id"`
	ClientPrice   *decimal.Decimal `json:"client_price"`
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID string) {
	var req closeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: "invalid_json"})
		return
	}
	res, err := h.closer.Close(r.Context(), CloseRequest{
		UserID:          userID,
		CompetitionID:   strings.TrimSpace(req.CompetitionID),
		PositionID:      strings.TrimSpace(req.PositionID),
		ClientPriceHint: req.ClientPrice,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type bracketRequest struct {
	CompetitionID   string           `json:"competition_id"`
	PositionID      string           `json:"position_id"`
	StopLoss        *decimal.Decimal `json:"stop_loss"`
	TakeProfit      *decimal.Decimal `json:"take_profit"`
	ClearStopLoss   bool             `json:"clear_stop_loss"`
	ClearTakeProfit bool             `json:"clear_take_profit"`
}

func (h *Handler) Brackets(w http.ResponseWriter, r *http.Request, userID string) {
	var req bracketRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: "invalid_json"})
		return
	}
	pos, err := h.closer.UpdateBrackets(r.Context(), BracketRequest{
		UserID:          userID,
		CompetitionID:   strings.TrimSpace(req.CompetitionID),
		PositionID:      strings.TrimSpace(req.PositionID),
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		ClearStopLoss:   req.ClearStopLoss,
		ClearTakeProfit: req.ClearTakeProfit,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pos)
}

func (h *Handler) Account(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := h.closer.Account(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}
