// Package reconciler keeps a client's view of one room consistent with the
// authoritative registry across push events, dropped connections and
// reconnects.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mcoot/planning-poker/internal/dependencies/clock"
	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/resume"
	"github.com/mcoot/planning-poker/internal/roomclient"
)

var (
	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("reconciler already running")

	errAttemptTimeout = fmt.Errorf("%w: attempt timed out", model.ErrTransport)
)

// local is the client-side cache. room is owned by the reconciler and only
// handed out as clones.
type local struct {
	room      *model.Room
	isCreator bool
}

// Reconciler maintains one room context. Events are applied by the Run
// goroutine strictly in arrival order; commands may be issued from any
// goroutine.
type Reconciler struct {
	registry  Registry
	transport roomclient.Transport
	store     resume.Store
	clock     clock.Clock
	config    Config
	logger    *slog.Logger

	mu              sync.Mutex
	rc              resume.RoomContext
	state           State
	cache           local
	transferPending bool
	generation      uint64 // bumped by every authoritative snapshot
	epoch           uint64 // bumped by every state transition
	running         bool
	left            bool
	stop            context.CancelFunc

	// emitMu serializes callbacks
	emitMu sync.Mutex
}

// New creates a reconciler for the given room context. A context without a
// player id joins the room as a new player on first connect.
func New(
	rc resume.RoomContext,
	registry Registry,
	transport roomclient.Transport,
	store resume.Store,
	clk clock.Clock,
	config Config,
	logger *slog.Logger,
) *Reconciler {
	defaults := DefaultConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if store == nil {
		store = resume.NewMemoryStore()
	}

	return &Reconciler{
		registry:  registry,
		transport: transport,
		store:     store,
		clock:     clk,
		config:    config,
		logger: logger.With(
			slog.String("component", "reconciler"),
			slog.String("room", string(rc.RoomID)),
		),
		rc:    rc,
		state: StateDisconnected,
		cache: local{isCreator: rc.CreatorHint},
	}
}

// View returns the current view
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Reconciler) viewLocked() View {
	v := View{
		State:           r.state,
		RoomID:          r.rc.RoomID,
		PlayerID:        r.rc.PlayerID,
		Name:            r.rc.DisplayName,
		IsCreator:       r.cache.isCreator && !r.transferPending,
		TransferPending: r.transferPending,
	}
	if r.cache.room != nil {
		v.Room = r.cache.room.Clone()
	}
	return v
}

// RoomContext returns the identity the reconciler currently uses
func (r *Reconciler) RoomContext() resume.RoomContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rc
}

// Run connects and keeps the room in sync until ctx is cancelled, the
// player leaves, or the room no longer exists. Transport failures are
// retried after a fixed delay without limit.
func (r *Reconciler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if r.left {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stop = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.stop = nil
		r.mu.Unlock()
	}()

	defer r.setState(StateDisconnected)

	for {
		err := r.session(ctx)

		if r.hasLeft() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if terminal(err) {
			r.logger.Warn("giving up on room", slog.Any("error", err))
			if errors.Is(err, model.ErrRoomNotFound) {
				r.forget()
			}
			r.notify(Notification{Level: LevelError, Message: fmt.Sprintf("Cannot rejoin room: %v", err), Err: err})
			return err
		}

		r.logger.Info("connection lost, retrying",
			slog.Duration("delay", r.config.ReconnectDelay),
			slog.Any("error", err))
		r.setState(StateDisconnected)

		timer := r.clock.NewTimer(r.config.ReconnectDelay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			if r.hasLeft() {
				return nil
			}
			return ctx.Err()
		}
	}
}

// terminal reports errors that no amount of retrying will fix
func terminal(err error) bool {
	return errors.Is(err, model.ErrRoomNotFound) || model.KindOf(err) == model.KindValidation
}

// session runs one connection: resume, stream, apply events. It returns
// when the stream fails or an event cannot be applied.
func (r *Reconciler) session(ctx context.Context) error {
	r.setState(StateConnecting)

	stream, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	// Recv only unblocks when the stream closes
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	for {
		event, err := stream.Recv()
		if err != nil {
			return err
		}
		if err := r.handle(ctx, event); err != nil {
			return err
		}
		r.setState(StateSynced)
	}
}

// open runs the resume protocol and connects the push stream. A cached
// identity the registry no longer knows is replaced by joining again under
// the cached display name.
func (r *Reconciler) open(ctx context.Context) (roomclient.Stream, error) {
	attemptCtx, cancel := r.attempt(ctx)
	defer cancel()

	rc := r.RoomContext()
	if rc.PlayerID != "" {
		room, err := r.registry.FetchRoom(attemptCtx, rc.RoomID, rc.PlayerID)
		switch {
		case err == nil:
			r.applySnapshot(room)
		case errors.Is(err, model.ErrPlayerNotFound):
			r.logger.Info("cached identity rejected, joining again",
				slog.String("player_id", string(rc.PlayerID)))
			rc.PlayerID = ""
		default:
			return nil, r.attemptError(attemptCtx, err)
		}
	}

	if rc.PlayerID == "" {
		playerID, err := r.registry.JoinRoom(attemptCtx, rc.RoomID, rc.DisplayName)
		if err != nil {
			return nil, r.attemptError(attemptCtx, err)
		}
		rc = r.rejoined(playerID)
	}

	stream, err := r.transport.Connect(attemptCtx, rc.RoomID, rc.PlayerID)
	if err != nil {
		return nil, r.attemptError(attemptCtx, err)
	}
	return stream, nil
}

// attempt derives a context bounded by AttemptTimeout on the injected clock
func (r *Reconciler) attempt(ctx context.Context) (context.Context, context.CancelFunc) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	timer := r.clock.AfterFunc(r.config.AttemptTimeout, func() { cancel(errAttemptTimeout) })
	return attemptCtx, func() {
		timer.Stop()
		cancel(context.Canceled)
	}
}

// attemptError reports a timed out attempt as such rather than as whatever
// the cancelled call returned
func (r *Reconciler) attemptError(attemptCtx context.Context, err error) error {
	if cause := context.Cause(attemptCtx); errors.Is(cause, errAttemptTimeout) {
		return cause
	}
	return err
}

// rejoined adopts a fresh identity. The old creator hint no longer applies.
func (r *Reconciler) rejoined(playerID model.PlayerID) resume.RoomContext {
	r.mu.Lock()
	r.rc.PlayerID = playerID
	r.rc.CreatorHint = false
	r.cache.isCreator = false
	rc := r.rc
	r.mu.Unlock()

	r.persist(rc)
	r.logger.Info("joined room", slog.String("player_id", string(playerID)))
	r.changed()
	return rc
}

// handle applies one event. Snapshots replace the cache; everything else is
// announced and then corrected by a fetch. Only the fetch touches the cache.
func (r *Reconciler) handle(ctx context.Context, event model.Event) error {
	if room, ok := model.Snapshot(event); ok {
		r.applySnapshot(room)
		switch event.(type) {
		case model.CardsRevealed:
			r.notify(Notification{Level: LevelInfo, Message: "Cards revealed!", Event: event})
		case model.VotingReset:
			r.notify(Notification{Level: LevelInfo, Message: "Voting has been reset", Event: event})
		}
		return nil
	}

	if message := r.describe(event); message != "" {
		r.notify(Notification{Level: LevelInfo, Message: message, Event: event})
	} else {
		r.logger.Debug("unrecognized event, resyncing", slog.String("event", string(event.Type())))
	}
	return r.refetch(ctx)
}

// describe turns a notification event into a message for the user
func (r *Reconciler) describe(event model.Event) string {
	switch ev := event.(type) {
	case model.PlayerJoined:
		return fmt.Sprintf("%s joined the room", ev.Name)
	case model.PlayerLeft:
		if ev.WasCreator {
			return fmt.Sprintf("%s left the room; nobody is creator until someone claims it", ev.Name)
		}
		return fmt.Sprintf("%s left the room", ev.Name)
	case model.VoteSubmitted:
		return fmt.Sprintf("%s submitted a vote", ev.Name)
	case model.LinkUpdated:
		return "Link updated"
	case model.CreatorChanged:
		return fmt.Sprintf("%s is now the creator", ev.Name)
	case model.CreatorTransferred:
		return fmt.Sprintf("%s handed creator to %s", r.playerName(ev.PreviousCreator), r.playerName(ev.NewCreator))
	default:
		return ""
	}
}

// playerName looks a player up in the cache, falling back to the id
func (r *Reconciler) playerName(id model.PlayerID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.room != nil {
		if p, ok := r.cache.room.GetPlayer(id); ok {
			return p.Name
		}
	}
	return string(id)
}

// refetch replaces the cache with a fresh fetch
func (r *Reconciler) refetch(ctx context.Context) error {
	attemptCtx, cancel := r.attempt(ctx)
	defer cancel()

	rc := r.RoomContext()
	room, err := r.registry.FetchRoom(attemptCtx, rc.RoomID, rc.PlayerID)
	if err != nil {
		return fmt.Errorf("refetch room: %w", r.attemptError(attemptCtx, err))
	}
	r.applySnapshot(room)
	return nil
}

// applySnapshot replaces the cache wholesale. The creator flag always comes
// from the snapshot, whatever was cached or hinted before.
func (r *Reconciler) applySnapshot(room *model.Room) {
	r.mu.Lock()
	r.cache.room = room.Clone()
	r.generation++
	me, ok := r.cache.room.GetPlayer(r.rc.PlayerID)
	r.cache.isCreator = ok && me.IsCreator
	hintChanged := r.rc.CreatorHint != r.cache.isCreator
	r.rc.CreatorHint = r.cache.isCreator
	rc := r.rc
	r.mu.Unlock()

	if hintChanged {
		r.persist(rc)
	}
	r.changed()
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.epoch++
	r.mu.Unlock()

	r.logger.Debug("state changed", slog.String("state", s.String()))
	r.changed()
}

func (r *Reconciler) hasLeft() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.left
}

func (r *Reconciler) persist(rc resume.RoomContext) {
	if rc.PlayerID == "" {
		return
	}
	if err := r.store.Save(rc); err != nil {
		r.logger.Warn("failed to save room context", slog.Any("error", err))
	}
}

// forget drops the persisted context so nothing tries to resume it
func (r *Reconciler) forget() {
	if err := r.store.Clear(r.RoomContext().RoomID); err != nil {
		r.logger.Warn("failed to clear room context", slog.Any("error", err))
	}
}

// changed publishes the current view
func (r *Reconciler) changed() {
	if r.config.OnChange == nil {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.config.OnChange(r.View())
}

func (r *Reconciler) notify(n Notification) {
	if r.config.OnNotify == nil {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.config.OnNotify(n)
}
