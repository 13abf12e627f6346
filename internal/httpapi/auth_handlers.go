package httpapi

import (
	"net/http"
	"time"

	"aidgate.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := a.gate.Login(r.Context(), auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		MFACode:  req.MFACode,
		Origin:   originFrom(r),
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	switch result.Status {
	case auth.StatusAuthenticated:
		writeJSON(w, http.StatusOK, loginResponse{
			Token:     result.Token,
			SessionID: result.Session.ID,
			ExpiresAt: result.Session.ExpiresAt,
		})
	case auth.StatusMFARequired:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"mfa_required": true,
		})
	default:
		payload := map[string]any{
			"reason": result.Reason,
		}
		if result.RetryAfter > 0 {
			payload["retry_after"] = retrySeconds(result.RetryAfter)
			w.Header().Set("Retry-After", formatSeconds(result.RetryAfter))
		}
		if result.AttemptsLeft >= 0 {
			payload["attempts_left"] = result.AttemptsLeft
		}
		writeJSON(w, http.StatusUnauthorized, payload)
	}
}
