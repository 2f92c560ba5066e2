package model

import (
	"sort"
	"time"
)

// RoomID is the short code used to join a room
type RoomID string

// RoomStatus represents the current phase of a voting round
type RoomStatus string

const (
	StatusVoting   RoomStatus = "voting"
	StatusRevealed RoomStatus = "revealed"
)

// Session is an archived, immutable record of one completed round
type Session struct {
	Timestamp time.Time           `json:"timestamp"`
	Players   map[PlayerID]Player `json:"players"`
	Link      string              `json:"link"`
}

// Room is the authoritative state of a planning poker room
type Room struct {
	ID          RoomID              `json:"id"`
	Status      RoomStatus          `json:"status"`
	Players     map[PlayerID]Player `json:"players"`
	Link        string              `json:"link"`
	VoteHistory []Session           `json:"voteHistory"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// GetPlayer returns the player with the given ID
func (r *Room) GetPlayer(id PlayerID) (Player, bool) {
	p, ok := r.Players[id]
	return p, ok
}

// Creator returns the current creator, if any
func (r *Room) Creator() (Player, bool) {
	for _, p := range r.Players {
		if p.IsCreator {
			return p, true
		}
	}
	return Player{}, false
}

// CreatorCount returns how many players hold the creator flag
func (r *Room) CreatorCount() int {
	n := 0
	for _, p := range r.Players {
		if p.IsCreator {
			n++
		}
	}
	return n
}

// HasVotes returns true if at least one player has cast a vote
func (r *Room) HasVotes() bool {
	for _, p := range r.Players {
		if p.HasVoted() {
			return true
		}
	}
	return false
}

// PlayerList returns the players in join order
func (r *Room) PlayerList() []Player {
	return SortedPlayers(r.Players)
}

// SortedPlayers orders a player set by join time, then ID.
// This is the iteration order every consumer of a player set agrees on.
func SortedPlayers(players map[PlayerID]Player) []Player {
	list := make([]Player, 0, len(players))
	for _, p := range players {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// ArchiveRound appends the current players and link to the history.
// The caller clears the round afterwards.
func (r *Room) ArchiveRound(now time.Time) {
	r.VoteHistory = append(r.VoteHistory, Session{
		Timestamp: now,
		Players:   copyPlayers(r.Players),
		Link:      r.Link,
	})
}

// ClearVotes sets every card back to unknown
func (r *Room) ClearVotes() {
	for id, p := range r.Players {
		p.Card = CardUnknown
		r.Players[id] = p
	}
}

// Clone returns a deep copy of the room
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = copyPlayers(r.Players)
	c.VoteHistory = make([]Session, len(r.VoteHistory))
	for i, s := range r.VoteHistory {
		c.VoteHistory[i] = Session{
			Timestamp: s.Timestamp,
			Players:   copyPlayers(s.Players),
			Link:      s.Link,
		}
	}
	return &c
}

// RedactedFor returns a copy of the room as the given player may see it.
// Before reveal, everyone else's vote is replaced with CardHidden.
func (r *Room) RedactedFor(viewer PlayerID) *Room {
	c := r.Clone()
	if c.Status == StatusRevealed {
		return c
	}
	for id, p := range c.Players {
		if id != viewer && p.HasVoted() {
			p.Card = CardHidden
			c.Players[id] = p
		}
	}
	return c
}

func copyPlayers(players map[PlayerID]Player) map[PlayerID]Player {
	out := make(map[PlayerID]Player, len(players))
	for id, p := range players {
		out[id] = p
	}
	return out
}
