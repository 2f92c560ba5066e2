package model

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the type of event
type EventType string

const (
	// Full-snapshot events: the payload is the complete room
	EventInitialState  EventType = "initial_state"
	EventCardsRevealed EventType = "cards_revealed"
	EventVotingReset   EventType = "voting_reset"

	// Notification events: the payload only describes what happened
	EventPlayerJoined       EventType = "player_joined"
	EventPlayerLeft         EventType = "player_left"
	EventVoteSubmitted      EventType = "vote_submitted"
	EventLinkUpdated        EventType = "link_updated"
	EventCreatorChanged     EventType = "creator_changed"
	EventCreatorTransferred EventType = "creator_transferred"
)

// Event is one of the typed room events below. The set is closed:
// only types in this package implement it.
type Event interface {
	Type() EventType
	payload() any
}

// InitialState carries the room as seen by a newly connected subscriber
type InitialState struct{ Room *Room }

// CardsRevealed carries the room right after reveal
type CardsRevealed struct{ Room *Room }

// VotingReset carries the room right after a reset
type VotingReset struct{ Room *Room }

// PlayerJoined is sent when a player joins
type PlayerJoined struct {
	PlayerID PlayerID `json:"playerId"`
	Name     string   `json:"name"`
}

// PlayerLeft is sent when a player leaves
type PlayerLeft struct {
	PlayerID   PlayerID `json:"playerId"`
	Name       string   `json:"name"`
	WasCreator bool     `json:"wasCreator,omitempty"`
}

// VoteSubmitted is sent when a player votes. The card is never included.
type VoteSubmitted struct {
	PlayerID PlayerID `json:"playerId"`
	Name     string   `json:"name"`
}

// LinkUpdated is sent when the creator changes the room link
type LinkUpdated struct {
	Link string `json:"link"`
}

// CreatorChanged is sent when an unassigned creator role is claimed
type CreatorChanged struct {
	PreviousCreator PlayerID `json:"previousCreator"`
	NewCreator      PlayerID `json:"newCreator"`
	Name            string   `json:"name"`
}

// CreatorTransferred is sent when the creator hands authority to another player
type CreatorTransferred struct {
	PreviousCreator PlayerID `json:"previousCreator"`
	NewCreator      PlayerID `json:"newCreator"`
}

// UnknownEvent holds an event whose type this build does not recognize
type UnknownEvent struct {
	Kind    EventType
	Payload json.RawMessage
}

func (InitialState) Type() EventType       { return EventInitialState }
func (CardsRevealed) Type() EventType      { return EventCardsRevealed }
func (VotingReset) Type() EventType        { return EventVotingReset }
func (PlayerJoined) Type() EventType       { return EventPlayerJoined }
func (PlayerLeft) Type() EventType         { return EventPlayerLeft }
func (VoteSubmitted) Type() EventType      { return EventVoteSubmitted }
func (LinkUpdated) Type() EventType        { return EventLinkUpdated }
func (CreatorChanged) Type() EventType     { return EventCreatorChanged }
func (CreatorTransferred) Type() EventType { return EventCreatorTransferred }
func (e UnknownEvent) Type() EventType     { return e.Kind }

func (e InitialState) payload() any       { return e.Room }
func (e CardsRevealed) payload() any      { return e.Room }
func (e VotingReset) payload() any        { return e.Room }
func (e PlayerJoined) payload() any       { return e }
func (e PlayerLeft) payload() any         { return e }
func (e VoteSubmitted) payload() any      { return e }
func (e LinkUpdated) payload() any        { return e }
func (e CreatorChanged) payload() any     { return e }
func (e CreatorTransferred) payload() any { return e }
func (e UnknownEvent) payload() any       { return e.Payload }

// Snapshot returns the full room carried by snapshot events
func Snapshot(e Event) (*Room, bool) {
	switch ev := e.(type) {
	case InitialState:
		return ev.Room, ev.Room != nil
	case CardsRevealed:
		return ev.Room, ev.Room != nil
	case VotingReset:
		return ev.Room, ev.Room != nil
	default:
		return nil, false
	}
}

// Envelope is the wire form of an event
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent serializes an event into its envelope
func EncodeEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e.payload())
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Type(), err)
	}
	return json.Marshal(Envelope{Type: e.Type(), Payload: payload})
}

// DecodeEvent parses an envelope into a typed event.
// Unrecognized types decode to UnknownEvent rather than failing.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}

	switch env.Type {
	case EventInitialState, EventCardsRevealed, EventVotingReset:
		var room Room
		if err := json.Unmarshal(env.Payload, &room); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if room.ID == "" {
			return nil, fmt.Errorf("decode %s payload: missing room id", env.Type)
		}
		switch env.Type {
		case EventInitialState:
			return InitialState{Room: &room}, nil
		case EventCardsRevealed:
			return CardsRevealed{Room: &room}, nil
		default:
			return VotingReset{Room: &room}, nil
		}
	case EventPlayerJoined:
		return decodeInto[PlayerJoined](env)
	case EventPlayerLeft:
		return decodeInto[PlayerLeft](env)
	case EventVoteSubmitted:
		return decodeInto[VoteSubmitted](env)
	case EventLinkUpdated:
		return decodeInto[LinkUpdated](env)
	case EventCreatorChanged:
		return decodeInto[CreatorChanged](env)
	case EventCreatorTransferred:
		return decodeInto[CreatorTransferred](env)
	default:
		return UnknownEvent{Kind: env.Type, Payload: env.Payload}, nil
	}
}

func decodeInto[T Event](env Envelope) (Event, error) {
	var ev T
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return ev, nil
}
