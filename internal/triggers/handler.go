package triggers

import (
	"net/http"

	"tradearena/internal/httputil"
)

type Handler struct {
	sweeper *Sweeper
	marker  *Marker
}

func NewHandler(sweeper *Sweeper, marker *Marker) *Handler {
	return &Handler{sweeper: sweeper, marker: marker}
}

func (h *Handler) SLTP(w http.ResponseWriter, r *http.Request) {
	sum, err := h.sweeper.Run(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) Mark(w http.ResponseWriter, r *http.Request) {
	sum, err := h.marker.Run(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sum)
}
