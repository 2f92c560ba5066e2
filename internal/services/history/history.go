// Package history presents a room's archived rounds for display.
package history

import (
	"time"

	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/services/aggregate"
)

// Entry is one archived round together with its statistics
type Entry struct {
	Round     int             `json:"round"` // 1-based, in archive order
	Timestamp time.Time       `json:"timestamp"`
	Link      string          `json:"link"`
	Players   []model.Player  `json:"players"` // join order
	Stats     aggregate.Stats `json:"stats"`
}

// Entries returns the room's history most recent first.
// The stored history is left untouched.
func Entries(room *model.Room) []Entry {
	if room == nil {
		return nil
	}
	return FromSessions(room.VoteHistory)
}

// FromSessions builds display entries from archived sessions, most recent first
func FromSessions(sessions []model.Session) []Entry {
	entries := make([]Entry, 0, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		entries = append(entries, entryFor(i, sessions[i]))
	}
	return entries
}

// Latest returns the most recently archived round
func Latest(room *model.Room) (Entry, bool) {
	if room == nil || len(room.VoteHistory) == 0 {
		return Entry{}, false
	}
	i := len(room.VoteHistory) - 1
	return entryFor(i, room.VoteHistory[i]), true
}

func entryFor(index int, s model.Session) Entry {
	return Entry{
		Round:     index + 1,
		Timestamp: s.Timestamp,
		Link:      s.Link,
		Players:   model.SortedPlayers(s.Players),
		Stats:     aggregate.ForSession(s),
	}
}
