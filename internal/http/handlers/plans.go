package handlers

import (
	"net/http"
)

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	plans, err := h.repo.ListPlans(ctx, true)
	if err != nil {
		h.loggerForRequest(r).Error("list_plans", "status", "db_error", "error", err)
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}
