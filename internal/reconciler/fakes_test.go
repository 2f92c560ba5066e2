package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/roomclient"
)

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeRegistry is an in-memory registry. hooks run before an operation and
// may block or fail it.
type fakeRegistry struct {
	mu     sync.Mutex
	room   *model.Room
	hooks  map[string]func(ctx context.Context) error
	calls  []string
	joined int
}

func newFakeRegistry(room *model.Room) *fakeRegistry {
	return &fakeRegistry{
		room:  room,
		hooks: make(map[string]func(ctx context.Context) error),
	}
}

func (f *fakeRegistry) hook(op string, fn func(ctx context.Context) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[op] = fn
}

func (f *fakeRegistry) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	fn := f.hooks[op]
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (f *fakeRegistry) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRegistry) count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// Snapshot returns a full copy of the authoritative room
func (f *fakeRegistry) Snapshot() *model.Room {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.room == nil {
		return nil
	}
	return f.room.Clone()
}

// update mutates the authoritative room
func (f *fakeRegistry) update(fn func(room *model.Room)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.room)
}

// withPlayer runs fn on an existing player under the lock
func (f *fakeRegistry) withPlayer(roomID model.RoomID, playerID model.PlayerID, fn func(room *model.Room, p *model.Player) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.room == nil || f.room.ID != roomID {
		return model.ErrRoomNotFound
	}
	p, ok := f.room.GetPlayer(playerID)
	if !ok {
		return model.ErrPlayerNotFound
	}
	if err := fn(f.room, &p); err != nil {
		return err
	}
	f.room.Players[p.ID] = p
	return nil
}

func (f *fakeRegistry) JoinRoom(ctx context.Context, roomID model.RoomID, name string) (model.PlayerID, error) {
	if err := f.enter(ctx, "join"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.room == nil || f.room.ID != roomID {
		return "", model.ErrRoomNotFound
	}
	if name == "" {
		return "", model.ErrInvalidName
	}
	f.joined++
	id := model.PlayerID(fmt.Sprintf("rejoined-%d", f.joined))
	f.room.Players[id] = model.Player{ID: id, Name: name, Card: model.CardUnknown, JoinedAt: base.Add(time.Hour)}
	return id, nil
}

func (f *fakeRegistry) FetchRoom(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (*model.Room, error) {
	if err := f.enter(ctx, "fetch"); err != nil {
		return nil, err
	}
	return f.viewFor(roomID, playerID)
}

// viewFor is what the registry would send this player, without hooks
func (f *fakeRegistry) viewFor(roomID model.RoomID, playerID model.PlayerID) (*model.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.room == nil || f.room.ID != roomID {
		return nil, model.ErrRoomNotFound
	}
	if _, ok := f.room.GetPlayer(playerID); !ok {
		return nil, model.ErrPlayerNotFound
	}
	return f.room.RedactedFor(playerID), nil
}

func (f *fakeRegistry) Vote(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, card model.Card) error {
	if err := f.enter(ctx, "vote"); err != nil {
		return err
	}
	return f.withPlayer(roomID, playerID, func(room *model.Room, p *model.Player) error {
		if !card.IsValid() {
			return model.ErrInvalidCard
		}
		p.Card = card
		return nil
	})
}

func (f *fakeRegistry) Reveal(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	if err := f.enter(ctx, "reveal"); err != nil {
		return err
	}
	return f.withPlayer(roomID, playerID, func(room *model.Room, p *model.Player) error {
		if !p.IsCreator {
			return model.ErrNotCreator
		}
		room.Status = model.StatusRevealed
		return nil
	})
}

func (f *fakeRegistry) Reset(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	if err := f.enter(ctx, "reset"); err != nil {
		return err
	}
	return f.withPlayer(roomID, playerID, func(room *model.Room, p *model.Player) error {
		if !p.IsCreator {
			return model.ErrNotCreator
		}
		room.Status = model.StatusVoting
		return nil
	})
}

func (f *fakeRegistry) SetLink(ctx context.Context, roomID model.RoomID, playerID model.PlayerID, link string) error {
	if err := f.enter(ctx, "link"); err != nil {
		return err
	}
	return f.withPlayer(roomID, playerID, func(room *model.Room, p *model.Player) error {
		if !p.IsCreator {
			return model.ErrNotCreator
		}
		room.Link = link
		return nil
	})
}

func (f *fakeRegistry) TransferCreator(ctx context.Context, roomID model.RoomID, fromID, toID model.PlayerID) error {
	if err := f.enter(ctx, "transfer"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.room == nil || f.room.ID != roomID {
		return model.ErrRoomNotFound
	}
	from, ok := f.room.GetPlayer(fromID)
	if !ok {
		return model.ErrPlayerNotFound
	}
	if !from.IsCreator {
		return model.ErrNotCreator
	}
	to, ok := f.room.GetPlayer(toID)
	if !ok {
		return model.ErrPlayerNotFound
	}
	from.IsCreator, to.IsCreator = false, true
	f.room.Players[from.ID] = from
	f.room.Players[to.ID] = to
	return nil
}

func (f *fakeRegistry) ClaimCreator(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	if err := f.enter(ctx, "claim"); err != nil {
		return err
	}
	return f.withPlayer(roomID, playerID, func(room *model.Room, p *model.Player) error {
		if room.CreatorCount() > 0 {
			return model.ErrCreatorAssigned
		}
		p.IsCreator = true
		return nil
	})
}

func (f *fakeRegistry) Leave(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) error {
	if err := f.enter(ctx, "leave"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.room == nil || f.room.ID != roomID {
		return model.ErrRoomNotFound
	}
	if _, ok := f.room.GetPlayer(playerID); !ok {
		return model.ErrPlayerNotFound
	}
	delete(f.room.Players, playerID)
	return nil
}

// fakeStream delivers pushed events until it is failed or closed
type fakeStream struct {
	events chan model.Event
	done   chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan model.Event, 32), done: make(chan struct{})}
}

func (s *fakeStream) push(event model.Event) {
	s.events <- event
}

func (s *fakeStream) Recv() (model.Event, error) {
	select {
	case <-s.done:
		return nil, fmt.Errorf("%w: stream closed", model.ErrTransport)
	default:
	}
	select {
	case event := <-s.events:
		return event, nil
	case <-s.done:
		return nil, fmt.Errorf("%w: stream closed", model.ErrTransport)
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// fakeTransport opens streams that start with the registry's current view
type fakeTransport struct {
	registry *fakeRegistry

	mu       sync.Mutex
	connects []model.PlayerID
	streams  []*fakeStream
	failures int
}

var _ roomclient.Transport = (*fakeTransport)(nil)

func newFakeTransport(registry *fakeRegistry) *fakeTransport {
	return &fakeTransport{registry: registry}
}

func (t *fakeTransport) failNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
}

func (t *fakeTransport) Connect(ctx context.Context, roomID model.RoomID, playerID model.PlayerID) (roomclient.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connects = append(t.connects, playerID)
	if t.failures > 0 {
		t.failures--
		return nil, fmt.Errorf("%w: connection refused", model.ErrTransport)
	}

	room, err := t.registry.viewFor(roomID, playerID)
	if err != nil {
		return nil, err
	}
	s := newFakeStream()
	s.push(model.InitialState{Room: room})
	t.streams = append(t.streams, s)
	return s, nil
}

func (t *fakeTransport) Connects() []model.PlayerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.PlayerID(nil), t.connects...)
}

func (t *fakeTransport) current() *fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.streams) == 0 {
		return nil
	}
	return t.streams[len(t.streams)-1]
}
