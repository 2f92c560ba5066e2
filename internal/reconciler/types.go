package reconciler

import (
	"context"
	"time"

	"github.com/mcoot/planning-poker/internal/model"
)

// State is the connection state of a room context
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Registry is the command surface of the authoritative room store.
// roomclient.Client implements it over HTTP.
type Registry interface {
	JoinRoom(ctx context.Context, roomID model.RoomID, name string) (model.PlayerID, error)
	FetchRoom(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (*model.Room, error)
	Vote(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, card model.Card) error
	Reveal(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error
	Reset(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error
	SetLink(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, link string) error
	TransferCreator(ctx context.Context, roomID model.RoomID, fromID, toID model.PlayerID) error
	ClaimCreator(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error
	Leave(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error
}

// Config holds reconciler timing and callbacks
type Config struct {
	// ReconnectDelay is the fixed wait between connection attempts
	ReconnectDelay time.Duration

	// AttemptTimeout bounds each connect or fetch attempt
	AttemptTimeout time.Duration

	// OnChange receives the current view after every change. Calls are
	// serialized; the callback must not issue commands synchronously.
	OnChange func(View)

	// OnNotify receives transient messages for the user
	OnNotify func(Notification)
}

// DefaultConfig returns the standard reconnect timing
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 5 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// Level is the severity of a notification
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a transient, dismissible message
type Notification struct {
	Level   Level
	Message string
	Event   model.Event // set for notifications caused by a push event
	Err     error       // set for failed commands
}

// View is what a renderer needs to draw the room
type View struct {
	State    State
	RoomID   model.RoomID
	PlayerID model.PlayerID
	Name     string

	// Room is the last authoritative snapshot with any pending local
	// changes applied. Nil until the first snapshot arrives.
	Room *model.Room

	// IsCreator gates creator-only controls. It is false while a transfer
	// is pending.
	IsCreator       bool
	TransferPending bool
}

// Me returns the viewer's own player from the cached room
func (v View) Me() (model.Player, bool) {
	if v.Room == nil {
		return model.Player{}, false
	}
	return v.Room.GetPlayer(v.PlayerID)
}
