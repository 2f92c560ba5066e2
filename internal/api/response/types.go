package response

import (
	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/services/aggregate"
	"github.com/mcoot/planning-poker/internal/services/history"
)

// Membership is returned when a room is created or joined
type Membership struct {
	RoomID   model.RoomID   `json:"roomId"`
	PlayerID model.PlayerID `json:"playerId"`
}

// Health is the health check response
type Health struct {
	Status string `json:"status"`
}

// Summary is a room's derived statistics and display history
type Summary struct {
	RoomID  model.RoomID     `json:"roomId"`
	Status  model.RoomStatus `json:"status"`
	Current aggregate.Stats  `json:"current"`
	History []history.Entry  `json:"history"`
}

// SummaryFromModel computes the summary of a room as the caller sees it
func SummaryFromModel(room *model.Room) Summary {
	return Summary{
		RoomID:  room.ID,
		Status:  room.Status,
		Current: aggregate.ForRoom(room),
		History: history.Entries(room),
	}
}
