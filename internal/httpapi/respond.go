package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"telebridge/internal/domain"
)

const (
	kindInvalidRequest = "invalid_request"
	kindLocked         = "locked"
	kindInternal       = "internal"

	msgLocked   = "Bot token is locked"
	msgInternal = "internal error"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// writeDomainError maps error kinds to status codes. Domain messages are shown
// verbatim; anything else is logged and hidden behind a generic message.
func writeDomainError(w http.ResponseWriter, logger *logrus.Entry, err error) {
	kind := domain.KindName(err)

	var status int
	switch {
	case errors.Is(err, domain.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrLookup), errors.Is(err, domain.ErrLink):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrFormat):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrGroupNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotConnected):
		status = http.StatusConflict
	default:
		logger.WithError(err).WithField("event", "http_internal_error").Error("request failed")
		writeError(w, http.StatusInternalServerError, msgInternal, kindInternal)
		return
	}

	message := err.Error()
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	writeError(w, status, message, kind)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
