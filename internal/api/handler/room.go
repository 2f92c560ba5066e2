package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/planning-poker/internal/api/middleware"
	"github.com/mcoot/planning-poker/internal/api/request"
	"github.com/mcoot/planning-poker/internal/api/response"
	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/services/room"
)

// RoomHandler handles room command and query endpoints
type RoomHandler struct {
	roomController *room.Controller
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(roomController *room.Controller) *RoomHandler {
	return &RoomHandler{roomController: roomController}
}

func roomID(r *http.Request) model.RoomID {
	return model.RoomID(mux.Vars(r)["roomId"])
}

// Create handles POST /api/v1/rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateRoomRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	created, playerID, err := h.roomController.CreateRoom(r.Context(), req.Name)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.Membership{RoomID: created.ID, PlayerID: playerID})
}

// Join handles POST /api/v1/rooms/{roomId}/join
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req request.JoinRoomRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	joined, playerID, err := h.roomController.JoinRoom(r.Context(), roomID(r), req.Name)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Membership{RoomID: joined.ID, PlayerID: playerID})
}

// Get handles GET /api/v1/rooms/{roomId}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	snapshot, err := h.roomController.FetchRoom(r.Context(), roomID(r), playerID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, snapshot)
}

// Summary handles GET /api/v1/rooms/{roomId}/summary
func (h *RoomHandler) Summary(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	snapshot, err := h.roomController.FetchRoom(r.Context(), roomID(r), playerID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.SummaryFromModel(snapshot))
}

// Vote handles POST /api/v1/rooms/{roomId}/vote
func (h *RoomHandler) Vote(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	var req request.VoteRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := h.roomController.Vote(r.Context(), roomID(r), playerID, model.Card(req.Card)); err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// Reveal handles POST /api/v1/rooms/{roomId}/reveal
func (h *RoomHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	if err := h.roomController.Reveal(r.Context(), roomID(r), playerID); err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// Reset handles POST /api/v1/rooms/{roomId}/reset
func (h *RoomHandler) Reset(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	if err := h.roomController.Reset(r.Context(), roomID(r), playerID); err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// SetLink handles PATCH /api/v1/rooms/{roomId}/link
func (h *RoomHandler) SetLink(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	var req request.SetLinkRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	if err := h.roomController.SetLink(r.Context(), roomID(r), playerID, req.Link); err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// TransferCreator handles POST /api/v1/rooms/{roomId}/transfer-creator
func (h *RoomHandler) TransferCreator(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	var req request.TransferCreatorRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	err := h.roomController.TransferCreator(r.Context(), roomID(r), playerID, model.PlayerID(req.NewCreatorID))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// ClaimCreator handles POST /api/v1/rooms/{roomId}/claim-creator
func (h *RoomHandler) ClaimCreator(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	if err := h.roomController.ClaimCreator(r.Context(), roomID(r), playerID); err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// Leave handles POST /api/v1/rooms/{roomId}/leave
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	playerID := middleware.MustGetPlayerID(r.Context())

	if err := h.roomController.Leave(r.Context(), roomID(r), playerID); err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}
