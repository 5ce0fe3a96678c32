package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/joripage/bess-exchange/pkg/admission"
	"github.com/joripage/bess-exchange/pkg/exchange"
	"github.com/joripage/bess-exchange/pkg/ledger"
	"github.com/joripage/bess-exchange/pkg/logging"
	"github.com/joripage/bess-exchange/pkg/policy"
	"github.com/joripage/bess-exchange/pkg/pricefeed"
	"github.com/joripage/bess-exchange/pkg/signing"
	"github.com/joripage/bess-exchange/pkg/telemetry"
	"go.uber.org/zap"
)

var errBadRequest = errors.New("bad request")

type ErrorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, admission.ErrValidation),
		errors.Is(err, errBadRequest),
		errors.Is(err, pricefeed.ErrInvalidTick),
		errors.Is(err, pricefeed.ErrInvalidBucket),
		errors.Is(err, telemetry.ErrInvalidReading),
		errors.Is(err, policy.ErrInvalidPolicy),
		errors.Is(err, signing.ErrEmptySecret),
		errors.Is(err, signing.ErrUnknownKey):
		return http.StatusBadRequest
	case errors.Is(err, admission.ErrSafetyGate):
		return http.StatusForbidden
	case errors.Is(err, admission.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, exchange.ErrNotFound),
		errors.Is(err, ledger.ErrOrderNotFound),
		errors.Is(err, pricefeed.ErrNoPrice):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		l, _ := logging.GetLogger(r.Context())
		l.Error(r.Context(), "request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func errBadRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errBadRequest}, args...)...)
}
