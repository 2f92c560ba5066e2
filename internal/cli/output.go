package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mcoot/planning-poker/internal/api/response"
	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/reconciler"
	"github.com/mcoot/planning-poker/internal/resume"
	"github.com/mcoot/planning-poker/internal/services/aggregate"
	"github.com/mcoot/planning-poker/internal/services/history"
)

// Output handles formatting output based on the configured format.
// It is safe for concurrent use.
type Output struct {
	format string
	out    io.Writer
	errOut io.Writer
	mu     sync.Mutex
}

// NewOutput creates a new Output formatter
func NewOutput(format string, out, errOut io.Writer) *Output {
	return &Output{format: format, out: out, errOut: errOut}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"kind":    string(model.KindOf(err)),
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(o.errOut, string(data))
	} else {
		fmt.Fprintf(o.errOut, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.out, string(data))
	} else {
		fmt.Fprintln(o.out, msg)
	}
}

func (o *Output) printJSON(data any) {
	switch v := data.(type) {
	case reconciler.View:
		data = viewJSON(v)
	case reconciler.Notification:
		data = notificationJSON(v)
	}

	// watch prints one document per line
	enc := json.NewEncoder(o.out)
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.Health:
		fmt.Fprintf(o.out, "Status: %s\n", v.Status)
	case response.Membership:
		fmt.Fprintf(o.out, "Room: %s\n", v.RoomID)
		fmt.Fprintf(o.out, "Player: %s\n", v.PlayerID)
	case *model.Room:
		o.printRoom(v, "")
	case *response.Summary:
		o.printSummary(v)
	case []resume.RoomContext:
		o.printContexts(v)
	case reconciler.View:
		o.printView(v)
	case reconciler.Notification:
		fmt.Fprintf(o.out, "[%s] %s\n", v.Level, v.Message)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printRoom(room *model.Room, viewer model.PlayerID) {
	fmt.Fprintf(o.out, "Room: %s (%s)\n", room.ID, room.Status)
	if room.Link != "" {
		fmt.Fprintf(o.out, "Link: %s\n", room.Link)
	}

	players := room.PlayerList()
	fmt.Fprintf(o.out, "Players (%d):\n", len(players))
	for _, p := range players {
		marks := ""
		if p.IsCreator {
			marks += " [creator]"
		}
		if p.ID == viewer {
			marks += " [you]"
		}
		fmt.Fprintf(o.out, "  - %s (%s)%s: %s\n", p.Name, p.ID, marks, cardLabel(p.Card))
	}

	if room.Status == model.StatusRevealed {
		o.printStats(aggregate.ForRoom(room))
	}
	if n := len(room.VoteHistory); n > 0 {
		fmt.Fprintf(o.out, "Rounds played: %d\n", n)
	}
}

func (o *Output) printStats(stats aggregate.Stats) {
	fmt.Fprintf(o.out, "Average: %s  Mode: %s  Votes: %d\n", stats.Average, stats.Mode, stats.Votes)
	if len(stats.Distribution) == 0 {
		return
	}
	buckets := make([]string, len(stats.Distribution))
	for i, b := range stats.Distribution {
		buckets[i] = fmt.Sprintf("%s x%d", b.Card, b.Count)
	}
	fmt.Fprintf(o.out, "Distribution: %s\n", strings.Join(buckets, ", "))
}

func (o *Output) printSummary(s *response.Summary) {
	fmt.Fprintf(o.out, "Room: %s (%s)\n", s.RoomID, s.Status)
	if s.Status == model.StatusRevealed {
		o.printStats(s.Current)
	}

	if len(s.History) == 0 {
		fmt.Fprintln(o.out, "No rounds played yet")
		return
	}
	fmt.Fprintf(o.out, "History (%d):\n", len(s.History))
	for _, e := range s.History {
		o.printEntry(e)
	}
}

func (o *Output) printEntry(e history.Entry) {
	line := fmt.Sprintf("  #%d %s  avg %s  mode %s", e.Round, e.Timestamp.Format("2006-01-02 15:04"), e.Stats.Average, e.Stats.Mode)
	if e.Link != "" {
		line += "  " + e.Link
	}
	fmt.Fprintln(o.out, line)

	votes := make([]string, 0, len(e.Players))
	for _, p := range e.Players {
		votes = append(votes, fmt.Sprintf("%s=%s", p.Name, cardLabel(p.Card)))
	}
	fmt.Fprintf(o.out, "     %s\n", strings.Join(votes, ", "))
}

func (o *Output) printContexts(rooms []resume.RoomContext) {
	if len(rooms) == 0 {
		fmt.Fprintln(o.out, "No saved rooms")
		return
	}
	for _, rc := range rooms {
		creator := ""
		if rc.CreatorHint {
			creator = " [creator]"
		}
		fmt.Fprintf(o.out, "%s  %s (%s)%s\n", rc.RoomID, rc.DisplayName, rc.PlayerID, creator)
	}
}

func (o *Output) printView(v reconciler.View) {
	status := v.State.String()
	if v.TransferPending {
		status += ", transferring creator"
	}
	fmt.Fprintf(o.out, "-- %s as %s [%s]\n", v.RoomID, v.Name, status)
	if v.Room != nil {
		o.printRoom(v.Room, v.PlayerID)
	}
}

func cardLabel(c model.Card) string {
	switch c {
	case model.CardUnknown, "":
		return "-"
	case model.CardHidden:
		return "voted"
	default:
		return string(c)
	}
}

type viewDocument struct {
	State           string         `json:"state"`
	RoomID          model.RoomID   `json:"roomId"`
	PlayerID        model.PlayerID `json:"playerId"`
	Name            string         `json:"name"`
	IsCreator       bool           `json:"isCreator"`
	TransferPending bool           `json:"transferPending"`
	Room            *model.Room    `json:"room,omitempty"`
}

func viewJSON(v reconciler.View) viewDocument {
	return viewDocument{
		State:           v.State.String(),
		RoomID:          v.RoomID,
		PlayerID:        v.PlayerID,
		Name:            v.Name,
		IsCreator:       v.IsCreator,
		TransferPending: v.TransferPending,
		Room:            v.Room,
	}
}

type notificationDocument struct {
	Level   reconciler.Level `json:"level"`
	Message string           `json:"message"`
	Event   model.EventType  `json:"event,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func notificationJSON(n reconciler.Notification) notificationDocument {
	doc := notificationDocument{Level: n.Level, Message: n.Message}
	if n.Event != nil {
		doc.Event = n.Event.Type()
	}
	if n.Err != nil {
		doc.Error = n.Err.Error()
	}
	return doc
}
