package httpserver

import "net/http"

// The following helpers implement the error-kind → status-code mapping:
// missing/invalid credential → 401, insufficient role → 403, not found or
// out-of-team-scope → 404 (never 403, to avoid existence disclosure),
// state-machine violation → 409, validation failure → 400, unexpected → 500.

func RespondUnauthorized(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusUnauthorized, "unauthorized", message)
}

func RespondForbidden(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusForbidden, "forbidden", message)
}

func RespondNotFound(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusNotFound, "not_found", message)
}

func RespondConflict(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusConflict, "conflict", message)
}

func RespondBadRequest(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusBadRequest, "bad_request", message)
}

func RespondUnavailable(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusServiceUnavailable, "unavailable", message)
}

// RespondInternal logs the underlying error via the caller and writes a
// generic message — callers must not leak err.Error() to the client.
func RespondInternal(w http.ResponseWriter) {
	RespondError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
}
