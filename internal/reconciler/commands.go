package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/resume"
)

// command is an in-flight request tied to the connection it started on
type command struct {
	op    string
	epoch uint64
	rc    resume.RoomContext
}

// begin fails fast unless the room is synced. Commands are never queued.
func (r *Reconciler) begin(op string) (command, error) {
	r.mu.Lock()
	var err error
	var reason string
	switch {
	case r.left:
		reason = "left room"
	case r.state != StateSynced:
		reason = fmt.Sprintf("not connected (%s)", r.state)
	}
	cmd := command{op: op, epoch: r.epoch, rc: r.rc}
	r.mu.Unlock()

	if reason != "" {
		err = fmt.Errorf("%w: %s: %s", model.ErrTransport, op, reason)
		r.notify(Notification{Level: LevelError, Message: fmt.Sprintf("Cannot %s: %s", op, reason), Err: err})
		return command{}, err
	}
	return cmd, nil
}

// finish settles a command. A command whose connection dropped while it
// was in flight counts as failed even if the registry accepted it.
func (r *Reconciler) finish(cmd command, err error, rollback func()) error {
	if err == nil {
		r.mu.Lock()
		dropped := r.epoch != cmd.epoch
		r.mu.Unlock()
		if dropped {
			err = fmt.Errorf("%w: connection lost during %s", model.ErrTransport, cmd.op)
		}
	}
	if err == nil {
		return nil
	}

	if rollback != nil {
		rollback()
	}
	r.logger.Info("command failed", slog.String("op", cmd.op), slog.Any("error", err))
	r.notify(Notification{Level: LevelError, Message: fmt.Sprintf("%s failed: %v", cmd.op, err), Err: err})
	return err
}

// optimistic applies a tentative change to the cache and returns the action
// that undoes it. The undo is skipped once a newer snapshot has replaced the
// cache, since that snapshot already reflects what really happened.
func (r *Reconciler) optimistic(apply func(c *local) (undo func(c *local))) (rollback func()) {
	r.mu.Lock()
	undo := apply(&r.cache)
	generation := r.generation
	r.mu.Unlock()
	r.changed()

	return func() {
		r.mu.Lock()
		if undo == nil || r.generation != generation {
			r.mu.Unlock()
			return
		}
		undo(&r.cache)
		r.mu.Unlock()
		r.changed()
	}
}

// Vote selects a card. The selection shows immediately and is rolled back
// if the registry rejects it.
func (r *Reconciler) Vote(ctx context.Context, card model.Card) error {
	cmd, err := r.begin("vote")
	if err != nil {
		return err
	}

	rollback := r.optimistic(func(c *local) func(*local) {
		if c.room == nil {
			return nil
		}
		me, ok := c.room.GetPlayer(cmd.rc.PlayerID)
		if !ok {
			return nil
		}
		previous := me.Card
		me.Card = card
		c.room.Players[me.ID] = me

		return func(c *local) {
			if me, ok := c.room.GetPlayer(cmd.rc.PlayerID); ok {
				me.Card = previous
				c.room.Players[me.ID] = me
			}
		}
	})

	err = r.registry.Vote(ctx, cmd.rc.RoomID, cmd.rc.PlayerID, card)
	return r.finish(cmd, err, rollback)
}

// TransferCreator hands the creator role to another player. Creator
// controls are hidden as soon as the transfer starts so two clients never
// both act as creator; a rejected transfer restores them.
func (r *Reconciler) TransferCreator(ctx context.Context, to model.PlayerID) error {
	cmd, err := r.begin("transfer creator")
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.transferPending = true
	r.mu.Unlock()

	rollback := r.optimistic(func(c *local) func(*local) {
		previous := c.isCreator
		c.isCreator = false
		if c.room != nil {
			if me, ok := c.room.GetPlayer(cmd.rc.PlayerID); ok {
				me.IsCreator = false
				c.room.Players[me.ID] = me
			}
		}

		return func(c *local) {
			c.isCreator = previous
			if c.room != nil {
				if me, ok := c.room.GetPlayer(cmd.rc.PlayerID); ok {
					me.IsCreator = previous
					c.room.Players[me.ID] = me
				}
			}
		}
	})

	err = r.registry.TransferCreator(ctx, cmd.rc.RoomID, cmd.rc.PlayerID, to)

	r.mu.Lock()
	r.transferPending = false
	r.mu.Unlock()

	err = r.finish(cmd, err, rollback)
	r.changed()
	return err
}

// Reveal shows every vote
func (r *Reconciler) Reveal(ctx context.Context) error {
	return r.simple(ctx, "reveal", func(ctx context.Context, rc resume.RoomContext) error {
		return r.registry.Reveal(ctx, rc.RoomID, rc.PlayerID)
	})
}

// Reset archives the round and starts a new one
func (r *Reconciler) Reset(ctx context.Context) error {
	return r.simple(ctx, "reset", func(ctx context.Context, rc resume.RoomContext) error {
		return r.registry.Reset(ctx, rc.RoomID, rc.PlayerID)
	})
}

// SetLink updates the room link
func (r *Reconciler) SetLink(ctx context.Context, link string) error {
	return r.simple(ctx, "set link", func(ctx context.Context, rc resume.RoomContext) error {
		return r.registry.SetLink(ctx, rc.RoomID, rc.PlayerID, link)
	})
}

// ClaimCreator takes the creator role of a room that has none
func (r *Reconciler) ClaimCreator(ctx context.Context) error {
	return r.simple(ctx, "claim creator", func(ctx context.Context, rc resume.RoomContext) error {
		return r.registry.ClaimCreator(ctx, rc.RoomID, rc.PlayerID)
	})
}

// simple runs a command with no local side effect; the push event that
// follows updates the view
func (r *Reconciler) simple(ctx context.Context, op string, call func(context.Context, resume.RoomContext) error) error {
	cmd, err := r.begin(op)
	if err != nil {
		return err
	}
	return r.finish(cmd, call(ctx, cmd.rc), nil)
}

// Leave stops the reconnect loop, forgets the room and removes the player
// from it. It works in any state; a player the registry no longer knows
// has already left.
func (r *Reconciler) Leave(ctx context.Context) error {
	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return nil
	}
	r.left = true
	rc := r.rc
	stop := r.stop
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	r.forget()
	r.setState(StateDisconnected)

	if rc.PlayerID == "" {
		return nil
	}
	err := r.registry.Leave(ctx, rc.RoomID, rc.PlayerID)
	if errors.Is(err, model.ErrRoomNotFound) || errors.Is(err, model.ErrPlayerNotFound) {
		return nil
	}
	return err
}
