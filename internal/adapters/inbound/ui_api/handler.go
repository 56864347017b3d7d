// Package ui_api exposes the terminal's command surface to UI clients over
// HTTP. The polling side pushes state out through the fanout WebSocket; this
// is the other direction, everything the dashboard's buttons and dropdowns
// used to do in-page.
package ui_api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/optionsdesk/terminal/internal/activity"
	"github.com/optionsdesk/terminal/internal/history"
	"github.com/optionsdesk/terminal/internal/orders"
	"github.com/optionsdesk/terminal/internal/poll"
	"github.com/optionsdesk/terminal/internal/streams"
	"github.com/optionsdesk/terminal/internal/telemetry"
)

// Handler routes UI commands to the order placer, registry, chain selection,
// and history journal.
//
// Routes:
//
//	POST /api/orders             place an order
//	GET  /api/orders             list all tracked orders
//	POST /api/orders/{id}/cancel cancel a tracked order
//	POST /api/chain/selection    switch the polled option-chain slice
//	POST /api/activity           user-interaction ping (suppresses recenter)
//	POST /api/visibility         tab visibility signal for the heartbeat
//	GET  /api/history            recent order-transition journal rows
//	GET  /health                 200 OK
type Handler struct {
	placer    *streams.Placer
	registry  *orders.Registry
	selection *streams.ChainSelection
	tracker   *activity.Tracker
	heartbeat *poll.Heartbeat
	journal   *history.Store // nil when the journal is disabled
}

func NewHandler(placer *streams.Placer, registry *orders.Registry, selection *streams.ChainSelection, tracker *activity.Tracker, heartbeat *poll.Heartbeat, journal *history.Store) *Handler {
	return &Handler{
		placer:    placer,
		registry:  registry,
		selection: selection,
		tracker:   tracker,
		heartbeat: heartbeat,
		journal:   journal,
	}
}

// RegisterRoutes wires HTTP routes onto the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.placeOrder)
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.cancelOrder)
	mux.HandleFunc("POST /api/chain/selection", h.setSelection)
	mux.HandleFunc("POST /api/activity", h.touchActivity)
	mux.HandleFunc("POST /api/visibility", h.setVisibility)
	mux.HandleFunc("GET /api/history", h.recentHistory)
	mux.HandleFunc("GET /health", h.healthCheck)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var details orders.Details
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		writeError(w, http.StatusBadRequest, "invalid order payload: "+err.Error())
		return
	}
	if details.Symbol == "" || details.Action == "" || details.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "symbol, action, and a positive quantity are required")
		return
	}

	h.tracker.Touch()

	id, err := h.placer.Place(r.Context(), details)
	if errors.Is(err, streams.ErrDuplicatePending) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		// The order exists locally either way; hand back the id so the UI
		// can track what the staleness policy does with it.
		telemetry.Warnf("ui_api: place %s %s: %v", details.Action, details.Symbol, err)
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "true" {
		writeJSON(w, http.StatusOK, h.registry.Active())
		return
	}
	writeJSON(w, http.StatusOK, h.registry.All())
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown order "+id)
		return
	}
	if !h.registry.UpdateState(id, orders.StateCancelled, orders.Update{Reason: "User cancelled"}) {
		writeError(w, http.StatusConflict, "order "+id+" is "+string(o.State)+", cannot cancel")
		return
	}
	h.tracker.Touch()
	w.WriteHeader(http.StatusNoContent)
}

type selectionRequest struct {
	Index   string `json:"index"`
	Expiry  string `json:"expiry"`
	Segment string `json:"segment"`
	Strikes int    `json:"strikes"`
}

func (h *Handler) setSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid selection payload: "+err.Error())
		return
	}
	if req.Index == "" {
		writeError(w, http.StatusBadRequest, "index is required")
		return
	}
	if req.Strikes <= 0 {
		req.Strikes = 10
	}

	h.selection.Set(req.Index, req.Expiry, req.Segment, req.Strikes)
	h.tracker.Touch()
	telemetry.Infof("ui_api: chain selection  index=%s expiry=%s strikes=%d", req.Index, req.Expiry, req.Strikes)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) touchActivity(w http.ResponseWriter, _ *http.Request) {
	h.tracker.Touch()
	w.WriteHeader(http.StatusNoContent)
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

func (h *Handler) setVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid visibility payload: "+err.Error())
		return
	}
	h.heartbeat.SetVisible(req.Visible)
	telemetry.Infof("ui_api: visibility=%t", req.Visible)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recentHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "history journal disabled")
		return
	}

	n := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}

	rows, err := h.journal.Recent(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
