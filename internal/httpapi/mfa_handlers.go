package httpapi

import (
	"errors"
	"net/http"

	"aidgate.org/internal/auth"
)

type mfaCodeRequest struct {
	Code string `json:"code"`
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	if identity.MFAEnabled() {
		writeError(w, r, http.StatusConflict, "mfa already enabled")
		return
	}

	secret, url, err := a.gate.BeginMFAEnrollment(r.Context(), identity)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "mfa setup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":      secret,
		"otpauth_url": url,
	})
}

func (a *API) handleMFAEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	code, ok := a.readMFACode(w, r)
	if !ok {
		return
	}

	switch err := a.gate.EnableMFA(r.Context(), identity, code); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, auth.ErrEnrollmentState):
		writeError(w, r, http.StatusBadRequest, "no pending enrollment")
	case errors.Is(err, auth.ErrMFACodeInvalid):
		writeError(w, r, http.StatusBadRequest, "invalid code")
	default:
		writeError(w, r, http.StatusInternalServerError, "mfa enable failed")
	}
}

func (a *API) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	code, ok := a.readMFACode(w, r)
	if !ok {
		return
	}

	switch err := a.gate.DisableMFA(r.Context(), identity, code); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, auth.ErrMFANotEnabled):
		writeError(w, r, http.StatusBadRequest, "mfa not enabled")
	case errors.Is(err, auth.ErrMFACodeInvalid):
		writeError(w, r, http.StatusBadRequest, "invalid code")
	default:
		writeError(w, r, http.StatusInternalServerError, "mfa disable failed")
	}
}

func (a *API) readMFACode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req mfaCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return "", false
	}
	if req.Code == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return "", false
	}
	return req.Code, true
}
