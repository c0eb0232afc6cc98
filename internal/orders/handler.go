package orders

import (
	"net/http"
	"strings"

	"tradearena/internal/httputil"
	"tradearena/internal/types"

	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type placeOrderRequest struct {
	CompetitionID     string           `json:"competition_id"`
	InstrumentID      string           `json:"instrument_id"`
	Side              string           `json:"side"`
	Quantity          decimal.Decimal  `json:"quantity"`
	Leverage          decimal.Decimal  `json:"leverage"`
	OrderType         string           `json:"order_type"`
	RequestedPrice    *decimal.Decimal `json:"requested_price"`
	StopLoss          *decimal.Decimal `json:"stop_loss"`
	TakeProfit        *decimal.Decimal `json:"take_profit"`
	ClientPrice       *decimal.Decimal `json:"client_price"`
	CreateNewPosition *bool            `json:"create_new_position"`
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request, userID string) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: "invalid_json"})
		return
	}
	var netting types.NettingPolicy
	if req.CreateNewPosition != nil {
		netting = types.NettingAgainstExisting
		if *req.CreateNewPosition {
			netting = types.NettingAlwaysNew
		}
	}
	res, err := h.svc.PlaceOrder(r.Context(), PlaceOrderRequest{
		UserID:          userID,
		CompetitionID:   strings.TrimSpace(req.CompetitionID),
		InstrumentID:    strings.TrimSpace(req.InstrumentID),
		Side:            types.OrderSide(strings.ToLower(req.Side)),
		Type:            types.OrderType(strings.ToLower(req.OrderType)),
		Quantity:        req.Quantity,
		Leverage:        req.Leverage,
		RequestedPrice:  req.RequestedPrice,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		ClientPriceHint: req.ClientPrice,
		Netting:         netting,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
