package handlers

import (
	"net/http"

	"github.com/finledger/finledger/internal/api/middleware"
)

// Health handles GET /api/health. It reports process liveness only; the
// backing services fail loudly on first use.
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "finledger",
	})
}
