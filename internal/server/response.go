// Package server wires the chi router, authentication middleware, rate
// limiting, and the core-relevant HTTP surface of spec §4.J/§6.
package server

import (
	"encoding/json"
	"net/http"
)

// errorEnvelope is the uniform error body: {error, code}, per spec §6.
type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: message, Code: code})
}

func badRequest(w http.ResponseWriter, code, message string) {
	writeError(w, http.StatusBadRequest, code, message)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", message)
}

func internalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

func malformedJSON(w http.ResponseWriter) {
	writeError(w, http.StatusUnprocessableEntity, "MALFORMED_JSON", "request body is not valid JSON")
}

func decodeJSON(r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst) == nil
}
