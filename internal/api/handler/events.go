package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/mcoot/planning-poker/internal/api/middleware"
	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/services/room"
	"github.com/mcoot/planning-poker/internal/sse"
)

// EventsHandler serves the per-room push streams
type EventsHandler struct {
	roomController *room.Controller
	hubManager     *sse.HubManager
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

// NewEventsHandler creates a new events handler. checkOrigin decides which
// browser origins may open a websocket.
func NewEventsHandler(
	roomController *room.Controller,
	hubManager *sse.HubManager,
	checkOrigin func(r *http.Request) bool,
	logger *slog.Logger,
) *EventsHandler {
	return &EventsHandler{
		roomController: roomController,
		hubManager:     hubManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With(slog.String("component", "events")),
	}
}

// SSE handles GET /api/v1/rooms/{roomId}/events
func (h *EventsHandler) SSE(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())
	id := roomID(r)

	client := sse.NewClient(playerID)
	if err := h.subscribe(r, id, playerID, client); err != nil {
		WriteError(w, err)
		return
	}
	defer h.hubManager.Unsubscribe(id, client)

	sse.ServeSSE(w, r, client)
}

// WebSocket handles GET /api/v1/rooms/{roomId}/ws
func (h *EventsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())
	id := roomID(r)

	// Subscribe before upgrading so lookup failures are still plain HTTP errors
	client := sse.NewClient(playerID)
	if err := h.subscribe(r, id, playerID, client); err != nil {
		WriteError(w, err)
		return
	}
	defer h.hubManager.Unsubscribe(id, client)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("websocket upgrade failed",
			slog.String("room", string(id)),
			slog.Any("error", err))
		return
	}

	sse.ServeWebSocket(conn, client, h.logger)
}

// subscribe registers client with the room's hub, seeded with the
// caller's current view of the room
func (h *EventsHandler) subscribe(r *http.Request, id model.RoomID, playerID model.PlayerID, client *sse.Client) error {
	return h.roomController.Subscribe(r.Context(), id, playerID, func(initial *model.Room) error {
		message, err := sse.EncodeMessage(model.InitialState{Room: initial})
		if err != nil {
			return err
		}
		return h.hubManager.Subscribe(id, client, message)
	})
}
