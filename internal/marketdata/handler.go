package marketdata

import (
	"net/http"
	"strings"

	"tradearena/internal/httputil"
)

const maxSymbolsPerRequest = 50

type Handler struct {
	prices Prices
}

func NewHandler(prices Prices) *Handler {
	return &Handler{prices: prices}
}

type pricesResponse struct {
	Prices  map[string]Quote `json:"prices"`
	Missing []string         `json:"missing,omitempty"`
}

func (h *Handler) Prices(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("symbols"))
	if raw == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbols is required"})
		return
	}
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) > maxSymbolsPerRequest {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "too many symbols"})
		return
	}
	quotes := h.prices.GetPrices(r.Context(), symbols)
	resp := pricesResponse{Prices: quotes}
	for _, s := range symbols {
		if _, ok := quotes[s]; !ok {
			resp.Missing = append(resp.Missing, s)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
