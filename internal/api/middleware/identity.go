package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mcoot/planning-poker/internal/api/apierr"
	"github.com/mcoot/planning-poker/internal/model"
)

type contextKey string

const playerIDContextKey contextKey = "player_id"

// PlayerIDQueryParam carries the caller's id for clients that cannot set
// headers, such as EventSource and browser websockets
const PlayerIDQueryParam = "player_id"

// Identity requires the caller's player id. Ids are opaque and only mean
// something inside the room named by the route; the handlers check membership.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			playerID := extractPlayerID(r)
			if playerID == "" {
				apierr.WriteError(w, model.ErrMissingID)
				return
			}

			ctx := context.WithValue(r.Context(), playerIDContextKey, playerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractPlayerID extracts the player id from the request
func extractPlayerID(r *http.Request) model.PlayerID {
	// Check Authorization header first
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return model.PlayerID(strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")))
	}

	// Fall back to query parameter
	return model.PlayerID(strings.TrimSpace(r.URL.Query().Get(PlayerIDQueryParam)))
}

// GetPlayerID returns the caller's player id from the request context
func GetPlayerID(ctx context.Context) model.PlayerID {
	playerID, _ := ctx.Value(playerIDContextKey).(model.PlayerID)
	return playerID
}

// MustGetPlayerID returns the caller's player id or panics
func MustGetPlayerID(ctx context.Context) model.PlayerID {
	playerID := GetPlayerID(ctx)
	if playerID == "" {
		panic("no player id in context - identity middleware not applied?")
	}
	return playerID
}
