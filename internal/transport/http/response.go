package httptransport

import (
	"encoding/json"
	"net/http"

	"conversion-job-service/internal/entity"
	"conversion-job-service/internal/failure"
)

type apiError struct {
	Message     string           `json:"message"`
	Kind        entity.ErrorKind `json:"kind,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// writeFailure reports err together with its classification.
func writeFailure(w http.ResponseWriter, code int, err error) {
	jerr := failure.Classify(err)
	writeJSON(w, code, apiError{Message: jerr.Message, Kind: jerr.Kind, Suggestions: jerr.Suggestions})
}
