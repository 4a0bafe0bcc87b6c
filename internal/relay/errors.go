package relay

import (
	"encoding/json"
	"net/http"
)

// writeJSON and writeError are the single choke point for relay HTTP
// responses, grounded on the teacher's internal/relay/handler.go helpers
// of the same name, so the status-code mapping of spec.md §7 is enforced
// in one place.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
