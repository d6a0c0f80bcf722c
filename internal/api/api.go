// Package api serves the chainhook webhook and the read API over HTTP.
package api

import (
	"encoding/json"
	"net/http"
)

// Mux is where handlers are mounted.
type Mux interface {
	Handle(pattern string, h http.Handler)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}
