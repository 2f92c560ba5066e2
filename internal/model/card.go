package model

// Card is a planning poker card value
type Card string

const (
	// CardUnknown marks a player who has not voted this round
	CardUnknown Card = "unknown"
	// CardHidden replaces another player's vote in a snapshot taken before reveal
	CardHidden Card = "hidden"

	Card0        Card = "0"
	Card1        Card = "1"
	Card2        Card = "2"
	Card3        Card = "3"
	Card5        Card = "5"
	Card8        Card = "8"
	Card13       Card = "13"
	Card20       Card = "20"
	Card40       Card = "40"
	Card100      Card = "100"
	CardQuestion Card = "?"
	CardCoffee   Card = "coffee"
)

// Deck is the fixed card set in canonical display order
var Deck = []Card{
	Card0, Card1, Card2, Card3, Card5, Card8, Card13,
	Card20, Card40, Card100, CardQuestion, CardCoffee,
}

// IsValid returns true if the card can be played
func (c Card) IsValid() bool {
	for _, d := range Deck {
		if c == d {
			return true
		}
	}
	return false
}

// IsVote returns true if the card represents a cast vote
func (c Card) IsVote() bool {
	return c != CardUnknown && c != ""
}

// Rank returns the card's position in the deck, or -1 if it is not a deck card
func (c Card) Rank() int {
	for i, d := range Deck {
		if c == d {
			return i
		}
	}
	return -1
}
