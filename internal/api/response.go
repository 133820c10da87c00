package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/parley-ai/parley/internal/log"
)

// envelope is the uniform response shape for every JSON endpoint.
// Code 0 means success; Data is null on errors.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// writeJSON writes a JSON response with the given status code.
// Uses buffer-first encoding so headers are only sent after the payload
// encoded successfully, allowing a proper 500 on encoding failure.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("failed to write response body", "error", err)
	}
}

// writeOK writes a success envelope with HTTP 200.
func writeOK(w http.ResponseWriter, message string, data any, logger log.Logger) {
	writeJSON(w, http.StatusOK, envelope{Code: 0, Message: message, Data: data}, logger)
}

// writeCreated writes a success envelope with HTTP 201.
func writeCreated(w http.ResponseWriter, message string, data any, logger log.Logger) {
	writeJSON(w, http.StatusCreated, envelope{Code: 0, Message: message, Data: data}, logger)
}

// writeError writes an error envelope. code is the application error
// code carried in the body, status the HTTP status.
func writeError(w http.ResponseWriter, status, code int, message string, logger log.Logger) {
	writeJSON(w, status, envelope{Code: code, Message: message, Data: nil}, logger)
}
