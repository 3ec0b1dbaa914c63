package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-api-notify/internal/domain"
)

var internalErrorMessages = map[string]string{
	"en": "Something went wrong, please try again later",
	"ar": "حدث خطأ ما، يرجى المحاولة لاحقاً",
}

// language picks the first supported tag from Accept-Language, defaulting to en.
func language(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		base, _, _ := strings.Cut(strings.ToLower(tag), "-")
		if _, ok := internalErrorMessages[base]; ok {
			return base
		}
	}
	return "en"
}

// httpError maps domain sentinels to status codes. Anything unrecognised is a
// repository failure: it is logged and answered with a localized generic message.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, internalErrorMessages[language(r)])
	}
}
