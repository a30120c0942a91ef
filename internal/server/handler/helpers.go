package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the engine's error taxonomy onto HTTP status codes
// and sends the error message as the response body. Unknown errors become
// an opaque 500 so internal details never leak.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrMarketNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotAdmin):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrZeroShares),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrInvalidLiquidity),
		errors.Is(err, domain.ErrInvalidCloseTime),
		errors.Is(err, domain.ErrInvalidFeeRate),
		errors.Is(err, domain.ErrNoFeeRecipient),
		errors.Is(err, domain.ErrEmptyTitle),
		errors.Is(err, domain.ErrEmptyAccount),
		errors.Is(err, domain.ErrNoSettlementAsset),
		errors.Is(err, domain.ErrScaleMismatch),
		errors.Is(err, domain.ErrExpInputTooLarge),
		errors.Is(err, domain.ErrOverflow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFunded),
		errors.Is(err, domain.ErrAlreadyFunded),
		errors.Is(err, domain.ErrMarketClosed),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrNotResolved),
		errors.Is(err, domain.ErrCloseTimeNotReached),
		errors.Is(err, domain.ErrAlreadySwept),
		errors.Is(err, domain.ErrReentrancy),
		errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientDepth),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrSlippageExceeded),
		errors.Is(err, domain.ErrNoClaimableShares),
		errors.Is(err, domain.ErrUnclaimedShares):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrTransferFailed),
		errors.Is(err, domain.ErrTransferMismatch):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("handler: internal error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseAmount parses a base-10 integer amount. The empty string is an error;
// callers with optional fields check before calling.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid integer amount: " + strconv.Quote(s))
	}
	return v, nil
}

// parseOutcome validates an outcome string from a request.
func parseOutcome(s string) (domain.Outcome, error) {
	o := domain.Outcome(s)
	if !o.Valid() {
		return "", domain.ErrInvalidOutcome
	}
	return o, nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
