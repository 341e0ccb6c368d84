package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"pkt.systems/grantd/api"
	"pkt.systems/grantd/internal/core"
	"pkt.systems/pslog"
)

// httpError is an error carrying its wire representation.
type httpError struct {
	Status int
	Code   string
	Detail string
	// Challenge, when set, is emitted as WWW-Authenticate.
	Challenge string
}

func (e *httpError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

func badRequest(code, detail string) *httpError {
	return &httpError{Status: http.StatusBadRequest, Code: code, Detail: detail}
}

func bearerChallenge(status int, code, detail string) *httpError {
	challenge := "Bearer"
	if code != "" {
		challenge = fmt.Sprintf("Bearer error=%q", code)
	}
	return &httpError{Status: status, Code: code, Detail: detail, Challenge: challenge}
}

// convertCoreError maps domain sentinels onto the wire taxonomy for the
// JSON endpoints. Token-flow failures collapse into invalid_grant so the
// response does not reveal which part of the submission was wrong.
func convertCoreError(err error) *httpError {
	switch {
	case errors.Is(err, core.ErrUnknownClient):
		return badRequest(api.ErrorUnauthorizedClient, "unknown client")
	case errors.Is(err, core.ErrRedirectMismatch):
		return badRequest(api.ErrorInvalidRequest, "redirect_uri does not match client registration")
	case errors.Is(err, core.ErrInvalidCode), errors.Is(err, core.ErrInvalidRefreshToken):
		return badRequest(api.ErrorInvalidGrant, "grant is invalid, expired, or already used")
	case errors.Is(err, core.ErrInvalidScope):
		return badRequest(api.ErrorInvalidScope, "requested scope exceeds the grant")
	case errors.Is(err, core.ErrInvalidAccessToken):
		return bearerChallenge(http.StatusUnauthorized, api.ErrorInvalidToken, "bearer token is invalid or expired")
	case errors.Is(err, core.ErrInsufficientScope):
		return bearerChallenge(http.StatusForbidden, api.ErrorInsufficientScope, "token scope does not cover this resource")
	case errors.Is(err, core.ErrConsentDenied):
		return &httpError{Status: http.StatusForbidden, Code: api.ErrorAccessDenied, Detail: "resource owner denied the request"}
	case errors.Is(err, core.ErrInvalidRequest):
		return badRequest(api.ErrorInvalidRequest, "malformed request")
	default:
		return nil
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, logger pslog.Logger, err error) {
	var herr *httpError
	if !errors.As(err, &herr) {
		herr = convertCoreError(err)
	}
	if herr == nil {
		logger.Error("http.request.failed", "error", err.Error())
		herr = &httpError{
			Status: http.StatusInternalServerError,
			Code:   api.ErrorServerError,
			Detail: "internal error",
		}
	} else {
		logger.Debug("http.request.rejected", "status", herr.Status, "code", herr.Code, "error", err.Error())
	}
	headers := http.Header{}
	if herr.Challenge != "" {
		headers.Set("WWW-Authenticate", herr.Challenge)
	}
	writeJSON(w, herr.Status, api.ErrorResponse{
		Error:            herr.Code,
		ErrorDescription: herr.Detail,
	}, headers)
}

func writeJSON(w http.ResponseWriter, status int, payload any, headers http.Header) {
	for key, values := range headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
