package mockapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError answers with the backend's error envelope.
func writeError(w http.ResponseWriter, status int, errorID, description string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"errorId":       errorID,
			"description":   description,
			"diagnosticsId": uuid.NewString(),
		},
	})
}

// baseURL is the scheme and host the request was addressed to. Every URL the
// mock hands out is built on it so tokens work behind httptest's random port.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
