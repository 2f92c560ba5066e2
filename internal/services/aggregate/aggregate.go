// Package aggregate computes vote statistics for a set of players.
package aggregate

import (
	"math"
	"sort"
	"strconv"

	"github.com/mcoot/planning-poker/internal/model"
)

// NotAvailable is reported when a statistic has no input
const NotAvailable = "N/A"

// Bucket is the number of votes for one card value
type Bucket struct {
	Card  model.Card `json:"card"`
	Count int        `json:"count"`
}

// Stats are the derived statistics of one round
type Stats struct {
	Average      string   `json:"average"`
	Distribution []Bucket `json:"distribution"` // canonical display order
	Mode         string   `json:"mode"`
	Votes        int      `json:"votes"`
}

// Count returns the number of votes for the given card
func (s Stats) Count(card model.Card) int {
	for _, b := range s.Distribution {
		if b.Card == card {
			return b.Count
		}
	}
	return 0
}

// ForRoom computes statistics over a room's current players
func ForRoom(room *model.Room) Stats {
	return Compute(room.PlayerList())
}

// ForSession computes statistics over an archived round
func ForSession(session model.Session) Stats {
	return Compute(model.SortedPlayers(session.Players))
}

// Compute derives statistics from players in the given order.
// Unknown and hidden cards are ignored. The mode is the card with the
// highest count; ties go to whichever card was encountered first.
func Compute(players []model.Player) Stats {
	counts := make(map[model.Card]int)
	var order []model.Card
	var sum float64
	numeric := 0

	for _, p := range players {
		if !counted(p.Card) {
			continue
		}
		if counts[p.Card] == 0 {
			order = append(order, p.Card)
		}
		counts[p.Card]++

		if v, ok := numericValue(p.Card); ok {
			sum += v
			numeric++
		}
	}

	stats := Stats{
		Average:      NotAvailable,
		Mode:         NotAvailable,
		Distribution: make([]Bucket, 0, len(order)),
	}

	if numeric > 0 {
		avg := math.Round(sum/float64(numeric)*10) / 10
		stats.Average = strconv.FormatFloat(avg, 'f', 1, 64)
	}

	best := 0
	for _, card := range order {
		stats.Votes += counts[card]
		if counts[card] > best {
			best = counts[card]
			stats.Mode = string(card)
		}
	}

	for _, card := range displayOrder(order) {
		stats.Distribution = append(stats.Distribution, Bucket{Card: card, Count: counts[card]})
	}

	return stats
}

// displayOrder puts deck cards first by rank, then unranked cards in encounter order
func displayOrder(encountered []model.Card) []model.Card {
	out := make([]model.Card, len(encountered))
	copy(out, encountered)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Rank(), out[j].Rank()
		switch {
		case ri < 0 && rj < 0:
			return false
		case ri < 0:
			return false
		case rj < 0:
			return true
		default:
			return ri < rj
		}
	})
	return out
}

func counted(c model.Card) bool {
	return c.IsVote() && c != model.CardHidden
}

func numericValue(c model.Card) (float64, bool) {
	v, err := strconv.ParseFloat(string(c), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
