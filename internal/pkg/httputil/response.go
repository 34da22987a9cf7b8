package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/logger"
)

// Request bodies larger than this are rejected outright. Webhook event
// batches run to a few hundred KB at most.
const maxBodyBytes = 1 << 20

// ErrorResponse is the error envelope every endpoint returns.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes data with the given status. Encoding failures are logged;
// by then the status line is already on the wire.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.With("http").Error("encoding response", "error", err)
	}
}

// OK writes a 200 with data.
func OK(w http.ResponseWriter, data interface{}) { JSON(w, http.StatusOK, data) }

// Created writes a 201 with data.
func Created(w http.ResponseWriter, data interface{}) { JSON(w, http.StatusCreated, data) }

// Accepted writes a 202 with data.
func Accepted(w http.ResponseWriter, data interface{}) { JSON(w, http.StatusAccepted, data) }

// Error writes an error envelope with the given status.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError writes a 500. The real error is logged, never echoed to
// the client.
func InternalError(w http.ResponseWriter, err error) {
	logger.With("http").Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// FromError maps a domain error onto a status using its sentinel class:
// bad input and config problems are the caller's fault, auth failures
// are 401, provider trouble is a 502, and everything else is a 500.
func FromError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrData), errors.Is(err, errs.ErrConfig):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrAuth):
		Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, errs.ErrProvider):
		Error(w, http.StatusBadGateway, err.Error())
	default:
		InternalError(w, err)
	}
}

// Decode parses the request body as JSON into dst, writing a 400 and
// returning false on malformed or oversized input.
func Decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
