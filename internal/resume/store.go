// Package resume persists the per-room identity a client needs to rejoin a
// room after a restart or lost connection.
package resume

import (
	"sort"
	"sync"

	"github.com/mcoot/planning-poker/internal/model"
)

// RoomContext is what a client remembers about one room it belongs to
type RoomContext struct {
	RoomID      model.RoomID   `yaml:"roomId" json:"roomId"`
	PlayerID    model.PlayerID `yaml:"playerId" json:"playerId"`
	DisplayName string         `yaml:"displayName" json:"displayName"`

	// CreatorHint is the last known creator flag. It only seeds the display
	// until the first snapshot arrives and is never trusted for authority.
	CreatorHint bool `yaml:"creatorHint" json:"creatorHint"`
}

// Store loads and saves room contexts keyed by room id
type Store interface {
	Load(roomID model.RoomID) (RoomContext, bool, error)
	Save(rc RoomContext) error
	Clear(roomID model.RoomID) error
}

// MemoryStore keeps room contexts in process memory
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[model.RoomID]RoomContext
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[model.RoomID]RoomContext)}
}

func (s *MemoryStore) Load(roomID model.RoomID) (RoomContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.rooms[roomID]
	return rc, ok, nil
}

func (s *MemoryStore) Save(rc RoomContext) error {
	if rc.RoomID == "" || rc.PlayerID == "" {
		return model.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[rc.RoomID] = rc
	return nil
}

func (s *MemoryStore) Clear(roomID model.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

// List returns every stored context ordered by room id
func (s *MemoryStore) List() ([]RoomContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedContexts(s.rooms), nil
}

func sortedContexts(rooms map[model.RoomID]RoomContext) []RoomContext {
	out := make([]RoomContext, 0, len(rooms))
	for _, rc := range rooms {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}
