package storage

import (
	"context"

	"github.com/mcoot/planning-poker/internal/model"
)

// Storage defines the interface for room persistence.
// Implementations hand out copies: mutating a returned room has no effect
// until it is saved again.
type Storage interface {
	SaveRoom(ctx context.Context, room *model.Room) error
	GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error)
	DeleteRoom(ctx context.Context, id model.RoomID) error
	RoomExists(ctx context.Context, id model.RoomID) (bool, error)
	ListRooms(ctx context.Context) ([]model.RoomID, error)
}
