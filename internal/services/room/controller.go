package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mcoot/planning-poker/internal/dependencies/clock"
	"github.com/mcoot/planning-poker/internal/dependencies/random"
	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/storage"
)

const (
	// RoomCodeLength is the length of generated room codes
	RoomCodeLength = 6
	// RoomCodeAlphabet is the characters used in room codes (avoid confusing chars)
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// MaxNameLength is the longest display name accepted, in runes
	MaxNameLength = 64
	// MaxLinkLength is the longest link accepted, in bytes
	MaxLinkLength = 2048

	maxCodeAttempts = 16
)

// Publisher delivers room events to subscribers
type Publisher interface {
	Publish(roomID model.RoomID, event model.Event)
	RoomClosed(roomID model.RoomID)
	// Rooms lists the rooms that currently have subscribers
	Rooms() []model.RoomID
}

// Controller is the authoritative registry of rooms. Every mutation of a
// room runs under that room's lock, is saved, and then published as exactly
// one event while the lock is still held.
type Controller struct {
	storage   storage.Storage
	publisher Publisher
	clock     clock.Clock
	random    random.Random
	logger    *slog.Logger
	locks     *roomLocks
}

// NewController creates a new room Controller
func NewController(
	storage storage.Storage,
	publisher Publisher,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		storage:   storage,
		publisher: publisher,
		clock:     clock,
		random:    random,
		logger:    logger.With(slog.String("component", "room")),
		locks:     newRoomLocks(),
	}
}

// CreateRoom creates a room with the named player as its creator
func (c *Controller) CreateRoom(ctx context.Context, name string) (*model.Room, model.PlayerID, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, "", err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		id := model.RoomID(c.random.Code(RoomCodeLength, RoomCodeAlphabet))

		room, playerID, created, err := c.tryCreate(ctx, id, name)
		if err != nil {
			return nil, "", err
		}
		if created {
			return room, playerID, nil
		}
	}

	return nil, "", fmt.Errorf("allocate room code: gave up after %d attempts", maxCodeAttempts)
}

func (c *Controller) tryCreate(ctx context.Context, id model.RoomID, name string) (*model.Room, model.PlayerID, bool, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	exists, err := c.storage.RoomExists(ctx, id)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		return nil, "", false, nil
	}

	now := c.clock.Now()
	creator := model.Player{
		ID:        model.PlayerID(c.random.UUID()),
		Name:      name,
		Card:      model.CardUnknown,
		IsCreator: true,
		JoinedAt:  now,
	}
	room := &model.Room{
		ID:          id,
		Status:      model.StatusVoting,
		Players:     map[model.PlayerID]model.Player{creator.ID: creator},
		VoteHistory: []model.Session{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := c.storage.SaveRoom(ctx, room); err != nil {
		c.logger.Error("failed to save room",
			slog.String("room", string(id)),
			slog.String("error", err.Error()),
		)
		return nil, "", false, err
	}

	c.logger.Info("room created",
		slog.String("room", string(id)),
		slog.String("player_id", string(creator.ID)),
	)

	return room.RedactedFor(creator.ID), creator.ID, true, nil
}

// JoinRoom adds a new player to a room. Names need not be unique.
func (c *Controller) JoinRoom(ctx context.Context, roomID model.RoomID, name string) (*model.Room, model.PlayerID, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, "", err
	}

	unlock := c.locks.Lock(roomID)
	defer unlock()

	room, err := c.storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, "", err
	}

	now := c.clock.Now()
	player := model.Player{
		ID:       model.PlayerID(c.random.UUID()),
		Name:     name,
		Card:     model.CardUnknown,
		JoinedAt: now,
	}
	room.Players[player.ID] = player
	room.UpdatedAt = now

	if err := c.commit(ctx, room, model.PlayerJoined{PlayerID: player.ID, Name: player.Name}); err != nil {
		return nil, "", err
	}

	c.logger.Info("player joined",
		slog.String("room", string(roomID)),
		slog.String("player_id", string(player.ID)),
	)

	return room.RedactedFor(player.ID), player.ID, nil
}

// FetchRoom returns the room as the given player may see it
func (c *Controller) FetchRoom(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (*model.Room, error) {
	room, err := c.storage.GetRoom(ctx, roomID)
	if err != nil {
		c.closeIfGone(roomID, err)
		return nil, err
	}
	if _, ok := room.GetPlayer(playerID); !ok {
		return nil, model.ErrPlayerNotFound
	}
	return room.RedactedFor(playerID), nil
}

// Vote records the player's card for the current round
func (c *Controller) Vote(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, card model.Card) error {
	if !card.IsValid() {
		return model.ErrInvalidCard
	}

	return c.mutate(ctx, roomID, playerID, func(room *model.Room, player model.Player) (model.Event, error) {
		if room.Status == model.StatusRevealed {
			return nil, model.ErrAlreadyRevealed
		}
		player.Card = card
		room.Players[player.ID] = player
		return model.VoteSubmitted{PlayerID: player.ID, Name: player.Name}, nil
	})
}

// Reveal shows every card. Creator only, and at least one vote must exist.
func (c *Controller) Reveal(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	return c.mutate(ctx, roomID, playerID, func(room *model.Room, player model.Player) (model.Event, error) {
		if !player.IsCreator {
			return nil, model.ErrNotCreator
		}
		if room.Status == model.StatusRevealed {
			return nil, model.ErrAlreadyRevealed
		}
		if !room.HasVotes() {
			return nil, model.ErrNoVotes
		}
		room.Status = model.StatusRevealed
		return model.CardsRevealed{Room: room.Clone()}, nil
	})
}

// Reset archives the revealed round and starts a new one. Creator only.
// The link belongs to the archived round and is cleared.
func (c *Controller) Reset(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	return c.mutate(ctx, roomID, playerID, func(room *model.Room, player model.Player) (model.Event, error) {
		if !player.IsCreator {
			return nil, model.ErrNotCreator
		}
		if room.Status != model.StatusRevealed {
			return nil, model.ErrNotRevealed
		}
		room.ArchiveRound(c.clock.Now())
		room.ClearVotes()
		room.Link = ""
		room.Status = model.StatusVoting
		return model.VotingReset{Room: room.Clone()}, nil
	})
}

// SetLink updates the room link. Creator only; an empty link clears it.
func (c *Controller) SetLink(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, link string) error {
	link = strings.TrimSpace(link)
	if len(link) > MaxLinkLength || strings.ContainsAny(link, "\r\n") {
		return model.ErrInvalidLink
	}

	return c.mutate(ctx, roomID, playerID, func(room *model.Room, player model.Player) (model.Event, error) {
		if !player.IsCreator {
			return nil, model.ErrNotCreator
		}
		room.Link = link
		return model.LinkUpdated{Link: link}, nil
	})
}

// TransferCreator moves creator authority from one player to another in a single step
func (c *Controller) TransferCreator(ctx context.Context, roomID model.RoomID, fromID, toID model.PlayerID) error {
	if toID == "" {
		return model.ErrMissingID
	}

	return c.mutate(ctx, roomID, fromID, func(room *model.Room, from model.Player) (model.Event, error) {
		if !from.IsCreator {
			return nil, model.ErrNotCreator
		}
		to, ok := room.GetPlayer(toID)
		if !ok {
			return nil, model.ErrPlayerNotFound
		}
		if to.ID == from.ID {
			return nil, model.ErrAlreadyCreator
		}

		from.IsCreator = false
		to.IsCreator = true
		room.Players[from.ID] = from
		room.Players[to.ID] = to

		c.logger.Info("creator transferred",
			slog.String("room", string(roomID)),
			slog.String("from", string(from.ID)),
			slog.String("to", string(to.ID)),
		)
		return model.CreatorTransferred{PreviousCreator: from.ID, NewCreator: to.ID}, nil
	})
}

// ClaimCreator makes the caller creator of a room whose creator has left.
// Which player should claim is decided outside the registry.
func (c *Controller) ClaimCreator(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	return c.mutate(ctx, roomID, playerID, func(room *model.Room, player model.Player) (model.Event, error) {
		if player.IsCreator {
			return nil, model.ErrAlreadyCreator
		}
		if room.CreatorCount() > 0 {
			return nil, model.ErrCreatorAssigned
		}
		player.IsCreator = true
		room.Players[player.ID] = player
		return model.CreatorChanged{NewCreator: player.ID, Name: player.Name}, nil
	})
}

// Leave removes the player. A departing creator leaves the room without a
// creator until someone claims it. The last player out deletes the room.
func (c *Controller) Leave(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	room, err := c.storage.GetRoom(ctx, roomID)
	if err != nil {
		c.closeIfGone(roomID, err)
		return err
	}
	player, ok := room.GetPlayer(playerID)
	if !ok {
		return model.ErrPlayerNotFound
	}

	delete(room.Players, playerID)
	event := model.PlayerLeft{PlayerID: player.ID, Name: player.Name, WasCreator: player.IsCreator}

	if len(room.Players) == 0 {
		if err := c.storage.DeleteRoom(ctx, roomID); err != nil {
			return err
		}
		c.publisher.Publish(roomID, event)
		c.publisher.RoomClosed(roomID)
		c.logger.Info("room closed",
			slog.String("room", string(roomID)),
			slog.String("reason", "empty"),
		)
		return nil
	}

	room.UpdatedAt = c.clock.Now()
	if err := c.commit(ctx, room, event); err != nil {
		return err
	}

	if player.IsCreator {
		c.logger.Warn("creator left room",
			slog.String("room", string(roomID)),
			slog.String("player_id", string(playerID)),
		)
	}
	return nil
}

// Subscribe registers a subscriber for a room's events. register runs under
// the room lock with the player's current view, so the subscriber sees that
// snapshot before any later event and misses nothing in between.
func (c *Controller) Subscribe(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, register func(initial *model.Room) error) error {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	room, err := c.storage.GetRoom(ctx, roomID)
	if err != nil {
		c.closeIfGone(roomID, err)
		return err
	}
	if _, ok := room.GetPlayer(playerID); !ok {
		return model.ErrPlayerNotFound
	}
	return register(room.RedactedFor(playerID))
}

// PruneIdle deletes rooms that have not changed for at least maxIdle
func (c *Controller) PruneIdle(ctx context.Context, maxIdle time.Duration) (int, error) {
	ids, err := c.storage.ListRooms(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range ids {
		removed, err := c.pruneRoom(ctx, id, maxIdle)
		if err != nil {
			return pruned, err
		}
		if removed {
			pruned++
		}
	}
	return pruned, nil
}

func (c *Controller) pruneRoom(ctx context.Context, id model.RoomID, maxIdle time.Duration) (bool, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	room, err := c.storage.GetRoom(ctx, id)
	if errors.Is(err, model.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if c.clock.Since(room.UpdatedAt) < maxIdle {
		return false, nil
	}

	if err := c.storage.DeleteRoom(ctx, id); err != nil {
		return false, err
	}
	c.publisher.RoomClosed(id)
	c.logger.Info("room closed",
		slog.String("room", string(id)),
		slog.String("reason", "idle"),
	)
	return true, nil
}

// CloseVanished disconnects subscribers of rooms that no longer exist in
// storage, such as redis keys that expired on their own
func (c *Controller) CloseVanished(ctx context.Context) (int, error) {
	closed := 0
	for _, id := range c.publisher.Rooms() {
		gone, err := c.closeVanished(ctx, id)
		if err != nil {
			return closed, err
		}
		if gone {
			closed++
		}
	}
	return closed, nil
}

func (c *Controller) closeVanished(ctx context.Context, id model.RoomID) (bool, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	exists, err := c.storage.RoomExists(ctx, id)
	if err != nil || exists {
		return false, err
	}
	c.publisher.RoomClosed(id)
	c.logger.Info("room closed",
		slog.String("room", string(id)),
		slog.String("reason", "expired"),
	)
	return true, nil
}

// closeIfGone ends the streams of a room that a lookup found missing
func (c *Controller) closeIfGone(roomID model.RoomID, err error) {
	if errors.Is(err, model.ErrRoomNotFound) {
		c.publisher.RoomClosed(roomID)
	}
}

// RunJanitor runs every interval until ctx is done. It prunes rooms idle for
// maxIdle (zero leaves pruning to storage) and closes the streams of rooms
// that have disappeared.
func (c *Controller) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.sweep(ctx, maxIdle)
		}
	}
}

func (c *Controller) sweep(ctx context.Context, maxIdle time.Duration) {
	if maxIdle > 0 {
		n, err := c.PruneIdle(ctx, maxIdle)
		if err != nil {
			c.logger.Error("prune idle rooms failed", slog.String("error", err.Error()))
		} else if n > 0 {
			c.logger.Info("pruned idle rooms", slog.Int("count", n))
		}
	}

	n, err := c.CloseVanished(ctx)
	if err != nil {
		c.logger.Error("close vanished rooms failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		c.logger.Info("closed vanished rooms", slog.Int("count", n))
	}
}

// mutate loads the room, checks membership, applies fn, then saves and
// publishes the event fn returns. A failing fn leaves storage untouched.
func (c *Controller) mutate(
	ctx context.Context,
	roomID model.RoomID,
	playerID model.PlayerID,
	fn func(room *model.Room, player model.Player) (model.Event, error),
) error {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	room, err := c.storage.GetRoom(ctx, roomID)
	if err != nil {
		c.closeIfGone(roomID, err)
		return err
	}
	player, ok := room.GetPlayer(playerID)
	if !ok {
		return model.ErrPlayerNotFound
	}

	event, err := fn(room, player)
	if err != nil {
		return err
	}

	room.UpdatedAt = c.clock.Now()
	return c.commit(ctx, room, event)
}

// commit saves the room and publishes its event. Caller holds the room lock.
func (c *Controller) commit(ctx context.Context, room *model.Room, event model.Event) error {
	if err := c.storage.SaveRoom(ctx, room); err != nil {
		c.logger.Error("failed to save room",
			slog.String("room", string(room.ID)),
			slog.String("event", string(event.Type())),
			slog.String("error", err.Error()),
		)
		return err
	}
	c.publisher.Publish(room.ID, event)
	return nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxNameLength {
		return "", model.ErrInvalidName
	}
	return name, nil
}

// NopPublisher discards all events
type NopPublisher struct{}

func (NopPublisher) Publish(model.RoomID, model.Event) {}
func (NopPublisher) RoomClosed(model.RoomID)           {}
func (NopPublisher) Rooms() []model.RoomID             { return nil }
