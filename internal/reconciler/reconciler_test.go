package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/resume"
	"github.com/mcoot/planning-poker/internal/testutil"
)

const (
	roomID         model.RoomID = "ROOM01"
	reconnectDelay              = 5 * time.Second
	attemptTimeout              = 10 * time.Second
	waitFor                     = time.Second
	tick                        = 5 * time.Millisecond
)

type ReconcilerSuite struct {
	suite.Suite
	ctx       context.Context
	clock     *clockwork.FakeClock
	registry  *fakeRegistry
	transport *fakeTransport
	store     *resume.MemoryStore

	mu    sync.Mutex
	notes []Notification
}

func (s *ReconcilerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clockwork.NewFakeClockAt(base)
	s.registry = newFakeRegistry(&model.Room{
		ID:     roomID,
		Status: model.StatusVoting,
		Players: map[model.PlayerID]model.Player{
			"alice": {ID: "alice", Name: "Alice", Card: model.CardUnknown, IsCreator: true, JoinedAt: base},
			"bob":   {ID: "bob", Name: "Bob", Card: model.CardUnknown, JoinedAt: base.Add(time.Second)},
		},
		CreatedAt: base,
		UpdatedAt: base,
	})
	s.transport = newFakeTransport(s.registry)
	s.store = resume.NewMemoryStore()
	s.notes = nil
}

func (s *ReconcilerSuite) newReconciler(rc resume.RoomContext) *Reconciler {
	s.Require().NoError(s.store.Save(rc))
	return New(rc, s.registry, s.transport, s.store, s.clock, Config{
		ReconnectDelay: reconnectDelay,
		AttemptTimeout: attemptTimeout,
		OnNotify: func(n Notification) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.notes = append(s.notes, n)
		},
	}, testutil.NopLogger())
}

func (s *ReconcilerSuite) asBob() *Reconciler {
	return s.newReconciler(resume.RoomContext{RoomID: roomID, PlayerID: "bob", DisplayName: "Bob"})
}

func (s *ReconcilerSuite) asAlice() *Reconciler {
	return s.newReconciler(resume.RoomContext{RoomID: roomID, PlayerID: "alice", DisplayName: "Alice", CreatorHint: true})
}

// start runs the reconciler in the background. The returned channel
// receives Run's result.
func (s *ReconcilerSuite) start(r *Reconciler) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.T().Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return cancel, done
}

// startSynced runs the reconciler and waits for the first snapshot
func (s *ReconcilerSuite) startSynced(r *Reconciler) <-chan error {
	_, done := s.start(r)
	s.awaitState(r, StateSynced)
	return done
}

func (s *ReconcilerSuite) awaitState(r *Reconciler, state State) {
	s.Require().Eventually(func() bool {
		return r.View().State == state
	}, waitFor, tick, "expected state %s", state)
}

// awaitRetry waits until the given number of connects have happened and
// the reconciler sits on its reconnect timer
func (s *ReconcilerSuite) awaitRetry(r *Reconciler, connects int) {
	s.Require().Eventually(func() bool {
		return len(s.transport.Connects()) == connects && r.View().State == StateDisconnected
	}, waitFor, tick)
	ctx, cancel := context.WithTimeout(s.ctx, waitFor)
	defer cancel()
	s.Require().NoError(s.clock.BlockUntilContext(ctx, 1))
}

func (s *ReconcilerSuite) result(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		s.FailNow("Run did not return")
		return nil
	}
}

func (s *ReconcilerSuite) notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notes...)
}

func (s *ReconcilerSuite) messages() []string {
	var out []string
	for _, n := range s.notifications() {
		out = append(out, n.Message)
	}
	return out
}

func (s *ReconcilerSuite) myCard(r *Reconciler) model.Card {
	me, ok := r.View().Me()
	s.Require().True(ok)
	return me.Card
}

func (s *ReconcilerSuite) TestResumeWithCachedIdentity() {
	// stale hint; the snapshot decides
	r := s.newReconciler(resume.RoomContext{RoomID: roomID, PlayerID: "bob", DisplayName: "Bob", CreatorHint: true})
	s.True(r.View().IsCreator)

	s.startSynced(r)

	view := r.View()
	s.Require().NotNil(view.Room)
	s.Len(view.Room.Players, 2)
	s.False(view.IsCreator)
	s.Equal([]model.PlayerID{"bob"}, s.transport.Connects())
	s.Empty(s.registry.Calls()[1:], "only the resume fetch should reach the registry")

	stored, ok, err := s.store.Load(roomID)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(model.PlayerID("bob"), stored.PlayerID)
	s.False(stored.CreatorHint)
}

func (s *ReconcilerSuite) TestRunTwice() {
	r := s.asBob()
	s.startSynced(r)

	s.ErrorIs(r.Run(s.ctx), ErrAlreadyRunning)
}

func (s *ReconcilerSuite) TestDeltaEventOnlyNotifiesUntilFetchResolves() {
	r := s.asBob()
	s.startSynced(r)

	release := make(chan struct{})
	s.registry.hook("fetch", func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	s.registry.update(func(room *model.Room) {
		p := room.Players["alice"]
		p.Card = model.Card5
		room.Players["alice"] = p
	})

	s.transport.current().push(model.VoteSubmitted{PlayerID: "alice", Name: "Alice"})

	s.Require().Eventually(func() bool {
		return len(s.notifications()) == 1
	}, waitFor, tick)
	s.Equal([]string{"Alice submitted a vote"}, s.messages())

	alice, _ := r.View().Room.GetPlayer("alice")
	s.Equal(model.CardUnknown, alice.Card, "cache must not change before the fetch")

	close(release)
	s.Require().Eventually(func() bool {
		alice, _ := r.View().Room.GetPlayer("alice")
		return alice.Card == model.CardHidden
	}, waitFor, tick)
}

func (s *ReconcilerSuite) TestUnknownEventRefetchesSilently() {
	r := s.asBob()
	s.startSynced(r)

	s.registry.update(func(room *model.Room) { room.Link = "https://tracker.example/PROJ-1" })
	s.transport.current().push(model.UnknownEvent{Kind: "mystery"})

	s.Require().Eventually(func() bool {
		return r.View().Room.Link == "https://tracker.example/PROJ-1"
	}, waitFor, tick)
	s.Equal(2, s.registry.count("fetch"))
	s.Empty(s.notifications())
}

func (s *ReconcilerSuite) TestSnapshotEventsReplaceCache() {
	r := s.asBob()
	s.startSynced(r)

	s.registry.update(func(room *model.Room) {
		p := room.Players["alice"]
		p.Card = model.Card8
		room.Players["alice"] = p
		room.Status = model.StatusRevealed
	})
	revealed, err := s.registry.viewFor(roomID, "bob")
	s.Require().NoError(err)
	s.transport.current().push(model.CardsRevealed{Room: revealed})

	s.Require().Eventually(func() bool {
		return len(s.notifications()) == 1
	}, waitFor, tick)
	s.Equal([]string{"Cards revealed!"}, s.messages())
	s.Equal(model.StatusRevealed, r.View().Room.Status)
	alice, _ := r.View().Room.GetPlayer("alice")
	s.Equal(model.Card8, alice.Card)
	s.Equal(1, s.registry.count("fetch"), "snapshots need no fetch")
}

func (s *ReconcilerSuite) TestReconnectWaitsFixedDelay() {
	r := s.asBob()
	s.startSynced(r)

	s.transport.current().Close()
	s.awaitRetry(r, 1)

	s.clock.Advance(reconnectDelay - time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	s.Len(s.transport.Connects(), 1)
	s.Equal(StateDisconnected, r.View().State)

	s.clock.Advance(time.Millisecond)
	s.awaitState(r, StateSynced)
	s.Len(s.transport.Connects(), 2)
}

func (s *ReconcilerSuite) TestRetriesUntilConnected() {
	s.transport.failNext(2)
	r := s.asBob()
	s.start(r)

	s.awaitRetry(r, 1)
	s.clock.Advance(reconnectDelay)
	s.awaitRetry(r, 2)
	s.clock.Advance(reconnectDelay)

	s.awaitState(r, StateSynced)
	s.Len(s.transport.Connects(), 3)
	s.Empty(s.notifications(), "transport failures are retried quietly")
}

func (s *ReconcilerSuite) TestAttemptTimeoutRetries() {
	s.registry.hook("fetch", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r := s.asBob()
	s.start(r)

	s.Require().Eventually(func() bool {
		return s.registry.count("fetch") == 1
	}, waitFor, tick)
	ctx, cancel := context.WithTimeout(s.ctx, waitFor)
	defer cancel()
	s.Require().NoError(s.clock.BlockUntilContext(ctx, 1))

	s.registry.hook("fetch", nil)
	s.clock.Advance(attemptTimeout)

	s.awaitRetry(r, 0)
	s.clock.Advance(reconnectDelay)
	s.awaitState(r, StateSynced)
}

func (s *ReconcilerSuite) TestResumeFallsBackToJoin() {
	r := s.newReconciler(resume.RoomContext{RoomID: roomID, PlayerID: "ghost", DisplayName: "Ghost", CreatorHint: true})
	s.startSynced(r)

	s.Equal(model.PlayerID("rejoined-1"), r.RoomContext().PlayerID)
	s.Equal([]model.PlayerID{"rejoined-1"}, s.transport.Connects())

	view := r.View()
	s.False(view.IsCreator)
	me, ok := view.Me()
	s.Require().True(ok)
	s.Equal("Ghost", me.Name)

	stored, ok, err := s.store.Load(roomID)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(model.PlayerID("rejoined-1"), stored.PlayerID)
	s.False(stored.CreatorHint)
}

func (s *ReconcilerSuite) TestFirstConnectJoins() {
	r := New(resume.RoomContext{RoomID: roomID, DisplayName: "Carol"},
		s.registry, s.transport, s.store, s.clock, Config{}, testutil.NopLogger())
	s.startSynced(r)

	s.Equal([]string{"join"}, s.registry.Calls())
	_, ok, err := s.store.Load(roomID)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ReconcilerSuite) TestRoomGoneIsTerminal() {
	s.registry = newFakeRegistry(nil)
	s.transport = newFakeTransport(s.registry)
	r := s.asBob()
	_, done := s.start(r)

	s.ErrorIs(s.result(done), model.ErrRoomNotFound)
	s.Empty(s.transport.Connects())

	_, ok, err := s.store.Load(roomID)
	s.Require().NoError(err)
	s.False(ok, "a room that no longer exists is forgotten")

	notes := s.notifications()
	s.Require().Len(notes, 1)
	s.Equal(LevelError, notes[0].Level)
	s.Equal(StateDisconnected, r.View().State)
}

func (s *ReconcilerSuite) TestJoinValidationIsTerminal() {
	r := New(resume.RoomContext{RoomID: roomID},
		s.registry, s.transport, s.store, s.clock, Config{}, testutil.NopLogger())
	_, done := s.start(r)

	s.ErrorIs(s.result(done), model.ErrInvalidName)
}

func (s *ReconcilerSuite) TestCommandsFailFastWhenNotSynced() {
	r := s.asAlice()

	s.ErrorIs(r.Vote(s.ctx, model.Card3), model.ErrTransport)
	s.ErrorIs(r.Reveal(s.ctx), model.ErrTransport)
	s.ErrorIs(r.Reset(s.ctx), model.ErrTransport)
	s.ErrorIs(r.SetLink(s.ctx, "x"), model.ErrTransport)
	s.ErrorIs(r.TransferCreator(s.ctx, "bob"), model.ErrTransport)
	s.ErrorIs(r.ClaimCreator(s.ctx), model.ErrTransport)
	s.Empty(s.registry.Calls())

	notes := s.notifications()
	s.Require().Len(notes, 6)
	s.Equal(LevelError, notes[0].Level)
	s.Equal("Cannot vote: not connected (disconnected)", notes[0].Message)
}

func (s *ReconcilerSuite) TestVoteIsOptimistic() {
	r := s.asBob()
	s.startSynced(r)

	var during model.Card
	s.registry.hook("vote", func(ctx context.Context) error {
		during = s.myCard(r)
		return nil
	})

	s.Require().NoError(r.Vote(s.ctx, model.Card5))
	s.Equal(model.Card5, during)
	s.Equal(model.Card5, s.myCard(r))
}

func (s *ReconcilerSuite) TestRejectedVoteRollsBack() {
	r := s.asBob()
	s.startSynced(r)

	err := r.Vote(s.ctx, "7")
	s.ErrorIs(err, model.ErrInvalidCard)
	s.Equal(model.CardUnknown, s.myCard(r))

	notes := s.notifications()
	s.Require().Len(notes, 1)
	s.Equal(LevelError, notes[0].Level)
	s.ErrorIs(notes[0].Err, model.ErrInvalidCard)
}

func (s *ReconcilerSuite) TestRollbackSkippedAfterNewerSnapshot() {
	r := s.asBob()
	s.startSynced(r)

	s.registry.hook("vote", func(ctx context.Context) error {
		s.registry.update(func(room *model.Room) {
			p := room.Players["bob"]
			p.Card = model.Card8
			room.Players["bob"] = p
		})
		snapshot, err := s.registry.viewFor(roomID, "bob")
		s.Require().NoError(err)
		s.transport.current().push(model.InitialState{Room: snapshot})
		s.Require().Eventually(func() bool {
			return s.myCard(r) == model.Card8
		}, waitFor, tick)
		return errors.New("rejected")
	})

	s.Error(r.Vote(s.ctx, model.Card5))
	s.Equal(model.Card8, s.myCard(r), "the newer snapshot wins over the rollback")
}

func (s *ReconcilerSuite) TestTransferHidesCreatorControls() {
	r := s.asAlice()
	s.startSynced(r)
	s.True(r.View().IsCreator)

	var during View
	s.registry.hook("transfer", func(ctx context.Context) error {
		during = r.View()
		return nil
	})

	s.Require().NoError(r.TransferCreator(s.ctx, "bob"))
	s.False(during.IsCreator)
	s.True(during.TransferPending)

	view := r.View()
	s.False(view.IsCreator)
	s.False(view.TransferPending)

	s.transport.current().push(model.CreatorTransferred{PreviousCreator: "alice", NewCreator: "bob"})
	s.Require().Eventually(func() bool {
		bob, _ := r.View().Room.GetPlayer("bob")
		return bob.IsCreator
	}, waitFor, tick)
	s.Equal([]string{"Alice handed creator to Bob"}, s.messages())

	s.Eventually(func() bool {
		stored, _, err := s.store.Load(roomID)
		return err == nil && !stored.CreatorHint
	}, waitFor, tick, "the creator hint follows the snapshot")
}

func (s *ReconcilerSuite) TestRejectedTransferRestoresCreator() {
	r := s.asAlice()
	s.startSynced(r)

	s.ErrorIs(r.TransferCreator(s.ctx, "nobody"), model.ErrPlayerNotFound)

	view := r.View()
	s.True(view.IsCreator)
	s.False(view.TransferPending)
	me, _ := view.Me()
	s.True(me.IsCreator)
}

func (s *ReconcilerSuite) TestConnectionDropFailsInFlightCommand() {
	r := s.asBob()
	s.startSynced(r)

	s.registry.hook("vote", func(ctx context.Context) error {
		s.transport.current().Close()
		s.awaitState(r, StateDisconnected)
		return nil
	})

	s.ErrorIs(r.Vote(s.ctx, model.Card5), model.ErrTransport)
	s.Equal(model.CardUnknown, s.myCard(r))

	// the registry took the vote; the next sync shows it
	s.registry.hook("vote", nil)
	s.awaitRetry(r, 1)
	s.clock.Advance(reconnectDelay)
	s.awaitState(r, StateSynced)
	s.Equal(model.Card5, s.myCard(r))
}

func (s *ReconcilerSuite) TestCreatorCommands() {
	r := s.asAlice()
	s.startSynced(r)

	s.Require().NoError(r.SetLink(s.ctx, "https://tracker.example/PROJ-2"))
	s.Require().NoError(r.Reveal(s.ctx))
	s.Require().NoError(r.Reset(s.ctx))
	s.ErrorIs(r.ClaimCreator(s.ctx), model.ErrCreatorAssigned)

	s.Equal([]string{"fetch", "link", "reveal", "reset", "claim"}, s.registry.Calls())
	s.Equal("https://tracker.example/PROJ-2", s.registry.Snapshot().Link)
}

func (s *ReconcilerSuite) TestLeaveStopsRun() {
	r := s.asBob()
	done := s.startSynced(r)

	s.Require().NoError(r.Leave(s.ctx))
	s.NoError(s.result(done))

	s.Equal(StateDisconnected, r.View().State)
	_, ok, err := s.store.Load(roomID)
	s.Require().NoError(err)
	s.False(ok)
	_, stillThere := s.registry.Snapshot().GetPlayer("bob")
	s.False(stillThere)

	s.ErrorIs(r.Vote(s.ctx, model.Card1), model.ErrTransport)
	s.NoError(r.Leave(s.ctx))
	s.NoError(r.Run(s.ctx), "a reconciler that has left does not reconnect")
}

func (s *ReconcilerSuite) TestLeaveWhileDisconnected() {
	r := s.asBob()
	s.registry.update(func(room *model.Room) { delete(room.Players, "bob") })

	s.NoError(r.Leave(s.ctx), "an unknown player has already left")
	s.Equal([]string{"leave"}, s.registry.Calls())
}

func (s *ReconcilerSuite) TestCancelStopsRun() {
	r := s.asBob()
	cancel, done := s.start(r)
	s.awaitState(r, StateSynced)

	cancel()
	s.ErrorIs(s.result(done), context.Canceled)
	s.Equal(StateDisconnected, r.View().State)

	// cancelling is not leaving
	_, ok, err := s.store.Load(roomID)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ReconcilerSuite) TestCancelDuringReconnectDelay() {
	r := s.asBob()
	cancel, done := s.start(r)
	s.awaitState(r, StateSynced)

	s.transport.current().Close()
	s.awaitRetry(r, 1)

	cancel()
	s.ErrorIs(s.result(done), context.Canceled)
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func TestStateString(t *testing.T) {
	for state, expected := range map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateSynced:       "synced",
		State(42):         "unknown",
	} {
		if got := state.String(); got != expected {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, expected)
		}
	}
}
