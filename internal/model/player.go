package model

import "time"

// PlayerID uniquely identifies a player within a room
type PlayerID string

// Player represents a room participant
type Player struct {
	ID        PlayerID  `json:"id"`
	Name      string    `json:"name"` // display only, not unique
	Card      Card      `json:"card"`
	IsCreator bool      `json:"isCreator"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// HasVoted returns true if the player has a card on the table
func (p Player) HasVoted() bool {
	return p.Card.IsVote()
}
