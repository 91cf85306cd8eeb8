package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError writes the {"error":{"code","message"}} envelope used by every
// API response. The api package has its own writer but imports this package,
// so middleware rejections are encoded here.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {
			"code":    code,
			"message": message,
		},
	})
}
