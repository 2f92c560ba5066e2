package api

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/mcoot/planning-poker/internal/api/handler"
	"github.com/mcoot/planning-poker/internal/api/middleware"
	"github.com/mcoot/planning-poker/internal/api/response"
	commonmw "github.com/mcoot/planning-poker/internal/middleware"
	"github.com/mcoot/planning-poker/internal/services/room"
	"github.com/mcoot/planning-poker/internal/sse"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger         *slog.Logger
	RoomController *room.Controller
	HubManager     *sse.HubManager

	// AllowedOrigins lists browser origins allowed by CORS and the websocket
	// handshake. Empty or "*" allows any origin.
	AllowedOrigins []string
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	roomHandler := handler.NewRoomHandler(cfg.RoomController)
	eventsHandler := handler.NewEventsHandler(cfg.RoomController, cfg.HubManager, originChecker(cfg.AllowedOrigins), cfg.Logger)

	// Create middleware
	identityMiddleware := middleware.Identity()
	loggingMiddleware := commonmw.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	// Anyone may create or join a room; joining hands out the player id
	api.HandleFunc("/rooms", roomHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}/join", roomHandler.Join).Methods(http.MethodPost)

	// Everything else acts as a player of the room
	rooms := api.PathPrefix("/rooms/{roomId}").Subrouter()
	rooms.Use(identityMiddleware)
	rooms.HandleFunc("", roomHandler.Get).Methods(http.MethodGet)
	rooms.HandleFunc("/summary", roomHandler.Summary).Methods(http.MethodGet)
	rooms.HandleFunc("/vote", roomHandler.Vote).Methods(http.MethodPost)
	rooms.HandleFunc("/reveal", roomHandler.Reveal).Methods(http.MethodPost)
	rooms.HandleFunc("/reset", roomHandler.Reset).Methods(http.MethodPost)
	rooms.HandleFunc("/link", roomHandler.SetLink).Methods(http.MethodPatch)
	rooms.HandleFunc("/transfer-creator", roomHandler.TransferCreator).Methods(http.MethodPost)
	rooms.HandleFunc("/claim-creator", roomHandler.ClaimCreator).Methods(http.MethodPost)
	rooms.HandleFunc("/leave", roomHandler.Leave).Methods(http.MethodPost)

	// Push streams
	rooms.HandleFunc("/events", eventsHandler.SSE).Methods(http.MethodGet)
	rooms.HandleFunc("/ws", eventsHandler.WebSocket).Methods(http.MethodGet)

	// Health check endpoint
	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, response.Health{Status: "ok"})
}

// originChecker mirrors the CORS policy for websocket handshakes
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
