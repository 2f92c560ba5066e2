package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcoot/planning-poker/internal/dependencies/clock"
	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/reconciler"
	"github.com/mcoot/planning-poker/internal/resume"
	"github.com/mcoot/planning-poker/internal/roomclient"
)

const watchHelp = `Commands:
  vote <card>      vote in the current round
  reveal           reveal all votes
  reset            archive the round and start a new one
  link <url>       set the room link
  transfer <id>    hand the creator role to another player
  claim            claim the creator role if nobody has it
  leave            leave the room and stop watching
  quit             stop watching without leaving`

var errQuit = errors.New("quit")

// controls are the room commands available while watching
type controls interface {
	Vote(ctx context.Context, card model.Card) error
	Reveal(ctx context.Context) error
	Reset(ctx context.Context) error
	SetLink(ctx context.Context, link string) error
	TransferCreator(ctx context.Context, to model.PlayerID) error
	ClaimCreator(ctx context.Context) error
	Leave(ctx context.Context) error
}

func newWatchCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "watch <roomId>",
		Short: "Follow a room live and send commands from stdin",
		Long: `Keep a live view of a room. The view is printed again whenever it
changes, and room events are printed as they arrive. If the connection drops
the view is marked disconnected and the client reconnects every few seconds.

` + watchHelp + `

Press Ctrl+C to stop watching.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := watchContext(model.RoomID(args[0]), name)
			if err != nil {
				return err
			}

			transport, err := roomclient.NewTransport(cfg.Transport, cfg.ServerURL)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return watch(ctx, rc, transport, cmd.InOrStdin(), output(cmd), logger(cmd))
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name to join with when the room is not saved")

	return cmd
}

// watchContext resumes a saved room, or starts a fresh one that joins
// under name on first connect
func watchContext(roomID model.RoomID, name string) (resume.RoomContext, error) {
	rc, err := identity(roomID)
	if err == nil {
		return rc, nil
	}
	if name == "" {
		return resume.RoomContext{}, err
	}
	return resume.RoomContext{RoomID: roomID, DisplayName: name}, nil
}

// watch runs a reconciler until the user leaves or quits, ctx ends, or the
// room can no longer be joined
func watch(ctx context.Context, rc resume.RoomContext, transport roomclient.Transport, in io.Reader, out *Output, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var last []byte
	r := reconciler.New(rc, client, transport, store, clock.New(), reconciler.Config{
		OnChange: func(v reconciler.View) {
			// Callbacks are serialized, so last needs no lock
			key, _ := json.Marshal(viewJSON(v))
			if string(key) == string(last) {
				return
			}
			last = key
			out.Print(v)
		},
		OnNotify: func(n reconciler.Notification) {
			out.Print(n)
		},
	}, logger)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	lines := readLines(ctx, in)
	for {
		select {
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err

		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep watching until interrupted
				lines = nil
				continue
			}
			err := dispatch(ctx, r, line, out)
			if errors.Is(err, errQuit) {
				cancel()
				<-done
				return nil
			}
			if err != nil {
				out.PrintError(err)
			}
		}
	}
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// dispatch runs one stdin command. Command failures are reported through
// the reconciler's notifications, so only usage errors are returned.
func dispatch(ctx context.Context, c controls, line string, out *Output) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("usage: %s", usage(verb))
		}
		return nil
	}

	switch verb {
	case "vote":
		if err := want(1); err != nil {
			return err
		}
		_ = c.Vote(ctx, model.Card(args[0]))
	case "reveal":
		if err := want(0); err != nil {
			return err
		}
		_ = c.Reveal(ctx)
	case "reset":
		if err := want(0); err != nil {
			return err
		}
		_ = c.Reset(ctx)
	case "link":
		if err := want(1); err != nil {
			return err
		}
		_ = c.SetLink(ctx, args[0])
	case "transfer":
		if err := want(1); err != nil {
			return err
		}
		_ = c.TransferCreator(ctx, model.PlayerID(args[0]))
	case "claim":
		if err := want(0); err != nil {
			return err
		}
		_ = c.ClaimCreator(ctx)
	case "leave":
		if err := c.Leave(ctx); err != nil {
			return err
		}
		out.PrintMessage("Left room")
	case "quit", "exit":
		return errQuit
	case "help", "?":
		out.PrintMessage(watchHelp)
	default:
		return fmt.Errorf("unknown command %q (try help)", verb)
	}
	return nil
}

func usage(verb string) string {
	switch verb {
	case "vote":
		return "vote <card>"
	case "link":
		return "link <url>"
	case "transfer":
		return "transfer <id>"
	default:
		return verb
	}
}
