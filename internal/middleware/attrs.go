package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// requestAttrs describes a request for the log. The room is only known once
// a mux route has matched.
func requestAttrs(r *http.Request) []any {
	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}
	if room := mux.Vars(r)["roomId"]; room != "" {
		attrs = append(attrs, slog.String("room", room))
	}
	return attrs
}
