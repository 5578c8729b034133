// Package api is the operations HTTP surface: conversation lookups, the due
// queue, and a live feed of pipeline events.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/scarybot/bogamail/internal/observability"
)

// writeJSON encodes v as the response body with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.Logger().Error("API: failed to encode response", "error", err)
	}
}

// parseLimit reads the limit query parameter, falling back to def when it is
// missing or not a positive integer.
func parseLimit(r *http.Request, def int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}
