package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mcoot/planning-poker/internal/api/apierr"
	"github.com/mcoot/planning-poker/internal/middleware"
)

// Recovery turns handler panics into a JSON internal error
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware.Recovery(logger, writePanic)
}

// A panicking push stream has already committed its status line (or
// hijacked the connection), so there is nothing left to write.
func writePanic(w http.ResponseWriter, r *http.Request, _ any) {
	if isStream(r) {
		return
	}
	apierr.WriteError(w, apierr.NewInternalError())
}

func isStream(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
