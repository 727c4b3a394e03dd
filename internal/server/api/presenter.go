package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/toolchainlabs/tokensvc/internal/common"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps sentinel errors onto HTTP statuses. Unknown errors become
// 500 with a generic body so internals do not leak.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	case errors.Is(err, common.ErrorForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.Is(err, common.ErrRefreshTokenExpired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "refresh token expired"})
	case errors.Is(err, common.ErrTokenRevoked):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "token revoked"})
	case errors.Is(err, common.ErrCodeUnavailable):
		writeJSON(w, http.StatusGone, errorResponse{Error: "exchange code unavailable"})
	case errors.Is(err, common.ErrQuotaExceeded):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "active token quota exceeded"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
