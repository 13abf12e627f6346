package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"aidgate.org/internal/access"
	"aidgate.org/internal/auth"
	"aidgate.org/internal/guard"
)

func (a *API) handleRecordsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRecords(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleRecordResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/records/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "record not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getRecord(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request, id string) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	view, err := a.engine.Get(r.Context(), identity, id, originFrom(r))
	if err != nil {
		// Unauthorized, missing and over-limit lookups share one
		// response so none of them confirms a record exists.
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "record lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	views, err := a.engine.List(r.Context(), identity, originFrom(r))
	if err != nil {
		if errors.Is(err, guard.ErrRateLimited) {
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "record listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}
