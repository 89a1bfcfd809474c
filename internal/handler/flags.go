package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/store"
)

type barStatusResponse struct {
	Open      bool `json:"open"`
	HappyHour bool `json:"happyHour"`
}

type setFlagRequest struct {
	Value bool `json:"value"`
}

// BarStatus возвращает текущие флаги состояния бара.
func (h *Handler) BarStatus(w http.ResponseWriter, r *http.Request) {
	barID, ok := h.barID(w, r)
	if !ok {
		return
	}

	open, err := h.deps.Store.Flag(r.Context(), barID, store.FlagOpen)
	if err != nil {
		h.internalError(w, "read open flag", err)
		return
	}

	happyHour, err := h.deps.Store.Flag(r.Context(), barID, store.FlagHappyHour)
	if err != nil {
		h.internalError(w, "read happyhour flag", err)
		return
	}

	h.writeJSON(w, barStatusResponse{Open: open, HappyHour: happyHour})
}

// SetOpenFlag устанавливает флаг открытия бара.
func (h *Handler) SetOpenFlag(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, store.FlagOpen)
}

// SetHappyHourFlag устанавливает флаг счастливого часа.
func (h *Handler) SetHappyHourFlag(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, store.FlagHappyHour)
}

func (h *Handler) setFlag(w http.ResponseWriter, r *http.Request, name string) {
	barID, ok := h.barID(w, r)
	if !ok {
		return
	}

	var req setFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.deps.Store.SetFlag(r.Context(), barID, name, req.Value); err != nil {
		h.internalError(w, "set flag", err)
		return
	}

	open, err := h.deps.Store.Flag(r.Context(), barID, store.FlagOpen)
	if err != nil {
		h.internalError(w, "read open flag", err)
		return
	}

	happyHour, err := h.deps.Store.Flag(r.Context(), barID, store.FlagHappyHour)
	if err != nil {
		h.internalError(w, "read happyhour flag", err)
		return
	}

	h.writeJSON(w, barStatusResponse{Open: open, HappyHour: happyHour})
}

func (h *Handler) barID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	barID, err := strconv.ParseInt(chi.URLParam(r, "barID"), 10, 64)
	if err != nil || barID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return barID, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
