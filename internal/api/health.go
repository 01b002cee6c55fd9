package api

import (
	"net/http"

	"github.com/chronologue/chronologue/internal/api/respond"
	"github.com/chronologue/chronologue/internal/health"
)

type HealthHandler struct {
	checker *health.Checker
}

func NewHealthHandler(c *health.Checker) *HealthHandler { return &HealthHandler{checker: c} }

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	components, ok := h.checker.Check(r.Context())
	status := http.StatusOK
	state := "healthy"
	if !ok {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	respond.WriteJSON(w, status, map[string]interface{}{
		"status":     state,
		"components": components,
	})
}
