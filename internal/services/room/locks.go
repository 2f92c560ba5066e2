package room

import (
	"sync"

	"github.com/mcoot/planning-poker/internal/model"
)

// roomLocks hands out one mutex per room id. Entries are dropped once no
// goroutine holds or waits on them, so the map only grows with live contention.
type roomLocks struct {
	mu    sync.Mutex
	locks map[model.RoomID]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[model.RoomID]*roomLock)}
}

// Lock blocks until the room's mutex is held and returns its release func
func (l *roomLocks) Lock(id model.RoomID) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &roomLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
