package api

import (
	"encoding/json"
	"net/http"

	"branchdown/internal/engine"

	"go.uber.org/zap"
)

// Response is the envelope every /api endpoint answers with. Success false
// is a domain failure; Message then says why.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Message: "OK", Data: data})
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Message: msg})
}

// writeError maps an engine error kind to its HTTP status. Internal failures
// are logged in full and reported without detail.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := statusForKind(engine.KindOf(err))
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		writeFailure(w, status, "internal error")
		return
	}
	writeFailure(w, status, err.Error())
}

func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidArgument:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
