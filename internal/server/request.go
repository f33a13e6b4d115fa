package server

import (
	"encoding/json"
	"net/http"
)

type CreateRunRequest struct {
	// Target is a workspace deploy target, e.g. "api:deploy:production".
	Target string `json:"target"`
}

type CreateRunResponse struct {
	RunID   string `json:"run_id"`
	Target  string `json:"target"`
	AppName string `json:"app_name"`
	State   string `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
