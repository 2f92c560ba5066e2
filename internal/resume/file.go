package resume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mcoot/planning-poker/internal/model"
)

// fileFormat is the on-disk layout of the state file
type fileFormat struct {
	Rooms map[model.RoomID]RoomContext `yaml:"rooms"`
}

// FileStore keeps room contexts in a YAML file. Every call reads the file
// fresh so several CLI processes can share it.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store backed by the file at path. The file and its
// directory are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns ~/.poker/rooms.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".poker", "rooms.yaml")
	}
	return filepath.Join(home, ".poker", "rooms.yaml")
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(roomID model.RoomID) (RoomContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return RoomContext{}, false, err
	}
	rc, ok := state.Rooms[roomID]
	return rc, ok, nil
}

func (s *FileStore) Save(rc RoomContext) error {
	if rc.RoomID == "" || rc.PlayerID == "" {
		return model.ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return err
	}
	state.Rooms[rc.RoomID] = rc
	return s.write(state)
}

func (s *FileStore) Clear(roomID model.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := state.Rooms[roomID]; !ok {
		return nil
	}
	delete(state.Rooms, roomID)
	return s.write(state)
}

// List returns every stored context ordered by room id
func (s *FileStore) List() ([]RoomContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return nil, err
	}
	return sortedContexts(state.Rooms), nil
}

func (s *FileStore) read() (*fileFormat, error) {
	state := &fileFormat{}

	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, state); err != nil {
			return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
		}
	}

	if state.Rooms == nil {
		state.Rooms = make(map[model.RoomID]RoomContext)
	}
	for id, rc := range state.Rooms {
		rc.RoomID = id
		state.Rooms[id] = rc
	}
	return state, nil
}

// write replaces the file atomically
func (s *FileStore) write(state *fileFormat) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".rooms-*.yaml")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
