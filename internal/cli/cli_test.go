package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/planning-poker/internal/api"
	"github.com/mcoot/planning-poker/internal/api/response"
	"github.com/mcoot/planning-poker/internal/factory"
	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/resume"
	"github.com/mcoot/planning-poker/internal/roomclient"
	"github.com/mcoot/planning-poker/internal/testutil"
)

// syncBuffer is a bytes.Buffer that can be read while a command writes to it
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type CLISuite struct {
	suite.Suite
	server *httptest.Server
	app    *factory.TestApp
	ctx    context.Context
	dir    string
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

func (s *CLISuite) SetupTest() {
	s.T().Setenv("POKER_PLAYER", "")
	s.ctx = context.Background()
	s.dir = s.T().TempDir()

	s.app = factory.NewTestApp()
	s.server = httptest.NewServer(api.NewRouter(api.RouterConfig{
		Logger:         testutil.NopLogger(),
		RoomController: s.app.RoomController,
		HubManager:     s.app.HubManager,
	}))
	s.T().Cleanup(func() {
		s.app.HubManager.Close()
		s.server.Close()
	})
}

// stateFile returns the state file of one simulated user
func (s *CLISuite) stateFile(user string) string {
	return filepath.Join(s.dir, user, "rooms.yaml")
}

func (s *CLISuite) args(user, format string, args ...string) []string {
	return append([]string{
		"--server", s.server.URL,
		"--state-file", s.stateFile(user),
		"--output", format,
	}, args...)
}

// run executes the CLI as user and returns stdout
func (s *CLISuite) run(user string, args ...string) (string, error) {
	return s.runFormat(user, "json", args...)
}

func (s *CLISuite) runFormat(user, format string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(s.args(user, format, args...))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	err := cmd.ExecuteContext(s.ctx)
	return out.String(), err
}

func (s *CLISuite) mustRun(user string, args ...string) string {
	out, err := s.run(user, args...)
	s.Require().NoError(err, "poker %s", strings.Join(args, " "))
	return out
}

func (s *CLISuite) saved(user string, roomID model.RoomID) (resume.RoomContext, bool) {
	rc, ok, err := resume.NewFileStore(s.stateFile(user)).Load(roomID)
	s.Require().NoError(err)
	return rc, ok
}

func (s *CLISuite) createRoom(user, name string) response.Membership {
	var m response.Membership
	s.Require().NoError(json.Unmarshal([]byte(s.mustRun(user, "room", "create", name)), &m))
	return m
}

func (s *CLISuite) joinRoom(user string, roomID model.RoomID, name string) response.Membership {
	var m response.Membership
	s.Require().NoError(json.Unmarshal([]byte(s.mustRun(user, "room", "join", string(roomID), name)), &m))
	return m
}

func (s *CLISuite) getRoom(user string, roomID model.RoomID) model.Room {
	var room model.Room
	s.Require().NoError(json.Unmarshal([]byte(s.mustRun(user, "room", "get", string(roomID))), &room))
	return room
}

func (s *CLISuite) TestHealth() {
	out := s.mustRun("alice", "health")
	s.JSONEq(`{"status":"ok"}`, out)
}

func (s *CLISuite) TestCreateSavesIdentity() {
	m := s.createRoom("alice", "Alice")
	s.NotEmpty(m.RoomID)
	s.NotEmpty(m.PlayerID)

	rc, ok := s.saved("alice", m.RoomID)
	s.Require().True(ok)
	s.Equal(m.PlayerID, rc.PlayerID)
	s.Equal("Alice", rc.DisplayName)
	s.True(rc.CreatorHint)
}

func (s *CLISuite) TestRoundFlow() {
	created := s.createRoom("alice", "Alice")
	roomID := created.RoomID
	joined := s.joinRoom("bob", roomID, "Bob")

	rc, ok := s.saved("bob", roomID)
	s.Require().True(ok)
	s.Equal(joined.PlayerID, rc.PlayerID)
	s.False(rc.CreatorHint)

	s.mustRun("bob", "vote", string(roomID), "5")
	s.mustRun("alice", "vote", string(roomID), "8")

	// Bob's own card is visible to him; Alice's is not yet
	room := s.getRoom("bob", roomID)
	s.Equal(model.Card5, room.Players[joined.PlayerID].Card)
	s.Equal(model.CardHidden, room.Players[created.PlayerID].Card)

	s.mustRun("alice", "reveal", string(roomID))
	room = s.getRoom("bob", roomID)
	s.Equal(model.StatusRevealed, room.Status)
	s.Equal(model.Card8, room.Players[created.PlayerID].Card)

	s.mustRun("alice", "link", string(roomID), "https://tracker.example/PROJ-7")
	s.mustRun("alice", "reset", string(roomID))

	var summary response.Summary
	s.Require().NoError(json.Unmarshal([]byte(s.mustRun("bob", "room", "summary", string(roomID))), &summary))
	s.Equal(model.StatusVoting, summary.Status)
	s.Require().Len(summary.History, 1)
	s.Equal("6.5", summary.History[0].Stats.Average)
	s.Equal("https://tracker.example/PROJ-7", summary.History[0].Link)
}

func (s *CLISuite) TestCreatorOnlyCommands() {
	created := s.createRoom("alice", "Alice")
	s.joinRoom("bob", created.RoomID, "Bob")

	for _, args := range [][]string{
		{"reveal", string(created.RoomID)},
		{"reset", string(created.RoomID)},
		{"link", string(created.RoomID), "https://example.com"},
	} {
		_, err := s.run("bob", args...)
		s.ErrorIs(err, model.ErrNotCreator, "poker %s", strings.Join(args, " "))
	}

	_, err := s.run("alice", "reset", string(created.RoomID))
	s.ErrorIs(err, model.ErrNotRevealed)
}

func (s *CLISuite) TestTransferAndClaim() {
	created := s.createRoom("alice", "Alice")
	joined := s.joinRoom("bob", created.RoomID, "Bob")

	s.mustRun("alice", "transfer", string(created.RoomID), string(joined.PlayerID))
	rc, _ := s.saved("alice", created.RoomID)
	s.False(rc.CreatorHint)

	room := s.getRoom("alice", created.RoomID)
	s.True(room.Players[joined.PlayerID].IsCreator)

	// the new creator leaves; nobody holds the role until claimed
	s.mustRun("bob", "leave", string(created.RoomID))
	s.mustRun("alice", "claim", string(created.RoomID))
	rc, _ = s.saved("alice", created.RoomID)
	s.True(rc.CreatorHint)

	_, err := s.run("alice", "claim", string(created.RoomID))
	s.ErrorIs(err, model.ErrCreatorAssigned)
}

func (s *CLISuite) TestLeaveForgetsRoom() {
	created := s.createRoom("alice", "Alice")

	out := s.mustRun("alice", "leave", string(created.RoomID))
	s.Contains(out, "Left room")

	_, ok := s.saved("alice", created.RoomID)
	s.False(ok)

	// the last player leaving removes the room
	_, err := s.run("bob", "room", "join", string(created.RoomID), "Bob")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *CLISuite) TestCommandsNeedIdentity() {
	created := s.createRoom("alice", "Alice")

	_, err := s.run("bob", "room", "get", string(created.RoomID))
	s.Require().Error(err)
	s.Contains(err.Error(), "no saved identity")

	// --player acts without a saved identity
	out := s.mustRun("bob", "--player", string(created.PlayerID), "room", "get", string(created.RoomID))
	s.Contains(out, string(created.PlayerID))
}

func (s *CLISuite) TestListSavedRooms() {
	first := s.createRoom("alice", "Alice")
	second := s.createRoom("alice", "Alice")

	var rooms []resume.RoomContext
	s.Require().NoError(json.Unmarshal([]byte(s.mustRun("alice", "room", "list")), &rooms))
	s.Len(rooms, 2)

	ids := []model.RoomID{rooms[0].RoomID, rooms[1].RoomID}
	s.ElementsMatch([]model.RoomID{first.RoomID, second.RoomID}, ids)
}

func (s *CLISuite) TestTextOutput() {
	created := s.createRoom("alice", "Alice")
	s.joinRoom("bob", created.RoomID, "Bob")
	s.mustRun("bob", "vote", string(created.RoomID), "13")

	out, err := s.runFormat("alice", "text", "room", "get", string(created.RoomID))
	s.Require().NoError(err)
	s.Contains(out, "Room: "+string(created.RoomID)+" (voting)")
	s.Contains(out, "Players (2):")
	s.Contains(out, "[creator]: -")
	s.Contains(out, "Bob")
	s.Contains(out, ": voted")

	s.mustRun("alice", "reveal", string(created.RoomID))
	out, err = s.runFormat("alice", "text", "room", "get", string(created.RoomID))
	s.Require().NoError(err)
	s.Contains(out, "Average: 13.0  Mode: 13  Votes: 1")
}

func (s *CLISuite) TestUnknownOutputFormat() {
	_, err := s.runFormat("alice", "yaml", "health")
	s.Error(err)
}

func (s *CLISuite) TestWatch() {
	for _, transport := range []string{roomclient.TransportSSE, roomclient.TransportWebSocket} {
		s.Run(transport, func() {
			created := s.createRoom("alice", "Alice")

			stdin, input := io.Pipe()
			var out syncBuffer
			ctx, cancel := context.WithCancel(s.ctx)
			defer cancel()

			cmd := NewRootCmd()
			cmd.SetArgs(s.args("alice", "json", "--transport", transport, "watch", string(created.RoomID)))
			cmd.SetIn(stdin)
			cmd.SetOut(&out)
			cmd.SetErr(io.Discard)

			done := make(chan error, 1)
			go func() { done <- cmd.ExecuteContext(ctx) }()

			s.Require().Eventually(func() bool {
				return strings.Contains(out.String(), `"state":"synced"`)
			}, 2*time.Second, 10*time.Millisecond)

			s.joinRoom("bob", created.RoomID, "Bob")
			s.Require().Eventually(func() bool {
				return strings.Contains(out.String(), "Bob joined the room")
			}, 2*time.Second, 10*time.Millisecond)

			_, err := io.WriteString(input, "vote 3\n")
			s.Require().NoError(err)
			s.Require().Eventually(func() bool {
				room, err := s.app.RoomController.FetchRoom(s.ctx, created.RoomID, created.PlayerID)
				return err == nil && room.Players[created.PlayerID].Card == model.Card3
			}, 2*time.Second, 10*time.Millisecond)

			_, err = io.WriteString(input, "quit\n")
			s.Require().NoError(err)

			select {
			case err := <-done:
				s.NoError(err)
			case <-time.After(2 * time.Second):
				s.FailNow("watch did not stop")
			}

			// quitting is not leaving
			_, ok := s.saved("alice", created.RoomID)
			s.True(ok)
		})
	}
}

func (s *CLISuite) TestWatchLeave() {
	created := s.createRoom("alice", "Alice")
	s.joinRoom("bob", created.RoomID, "Bob")

	stdin, input := io.Pipe()
	var out syncBuffer
	cmd := NewRootCmd()
	cmd.SetArgs(s.args("alice", "json", "watch", string(created.RoomID)))
	cmd.SetIn(stdin)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(s.ctx) }()

	s.Require().Eventually(func() bool {
		return strings.Contains(out.String(), `"state":"synced"`)
	}, 2*time.Second, 10*time.Millisecond)

	_, err := io.WriteString(input, "leave\n")
	s.Require().NoError(err)

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.FailNow("watch did not stop after leave")
	}

	_, ok := s.saved("alice", created.RoomID)
	s.False(ok)
	room := s.getRoom("bob", created.RoomID)
	s.Len(room.Players, 1)
}

func (s *CLISuite) TestWatchJoinsWithName() {
	created := s.createRoom("alice", "Alice")

	ctx, cancel := context.WithCancel(s.ctx)
	var out syncBuffer
	cmd := NewRootCmd()
	cmd.SetArgs(s.args("carol", "json", "watch", "--name", "Carol", string(created.RoomID)))
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	s.Require().Eventually(func() bool {
		_, ok, err := resume.NewFileStore(s.stateFile("carol")).Load(created.RoomID)
		return err == nil && ok && strings.Contains(out.String(), `"state":"synced"`)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.FailNow("watch did not stop on cancel")
	}

	rc, _ := s.saved("carol", created.RoomID)
	s.Equal("Carol", rc.DisplayName)
}

func (s *CLISuite) TestWatchUnknownRoom() {
	s.Require().NoError(resume.NewFileStore(s.stateFile("alice")).Save(resume.RoomContext{
		RoomID: "GONE01", PlayerID: "p1", DisplayName: "Alice",
	}))

	_, err := s.run("alice", "watch", "GONE01")
	s.ErrorIs(err, model.ErrRoomNotFound)

	_, ok := s.saved("alice", "GONE01")
	s.False(ok)
}

// recordingControls records what dispatch asked for
type recordingControls struct {
	calls []string
}

func (c *recordingControls) record(call string) error {
	c.calls = append(c.calls, call)
	return nil
}

func (c *recordingControls) Vote(_ context.Context, card model.Card) error {
	return c.record("vote " + string(card))
}
func (c *recordingControls) Reveal(context.Context) error { return c.record("reveal") }
func (c *recordingControls) Reset(context.Context) error  { return c.record("reset") }
func (c *recordingControls) SetLink(_ context.Context, link string) error {
	return c.record("link " + link)
}
func (c *recordingControls) TransferCreator(_ context.Context, to model.PlayerID) error {
	return c.record("transfer " + string(to))
}
func (c *recordingControls) ClaimCreator(context.Context) error { return c.record("claim") }
func (c *recordingControls) Leave(context.Context) error        { return c.record("leave") }

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	out := NewOutput("text", io.Discard, io.Discard)

	c := &recordingControls{}
	for _, line := range []string{
		"vote 5", "  REVEAL ", "reset", "link https://x.example", "transfer p2", "claim", "", "help", "leave",
	} {
		if err := dispatch(ctx, c, line, out); err != nil {
			t.Fatalf("dispatch(%q): %v", line, err)
		}
	}

	want := []string{"vote 5", "reveal", "reset", "link https://x.example", "transfer p2", "claim", "leave"}
	if strings.Join(c.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("calls = %v, want %v", c.calls, want)
	}
}

func TestDispatchErrors(t *testing.T) {
	ctx := context.Background()
	out := NewOutput("text", io.Discard, io.Discard)
	c := &recordingControls{}

	tests := []struct {
		line string
		want string
	}{
		{"vote", "usage: vote <card>"},
		{"vote 1 2", "usage: vote <card>"},
		{"transfer", "usage: transfer <id>"},
		{"reveal now", "usage: reveal"},
		{"dance", `unknown command "dance"`},
	}
	for _, tt := range tests {
		err := dispatch(ctx, c, tt.line, out)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("dispatch(%q) = %v, want %q", tt.line, err, tt.want)
		}
	}

	if err := dispatch(ctx, c, "quit", out); err != errQuit {
		t.Errorf("quit returned %v", err)
	}
	if len(c.calls) != 0 {
		t.Errorf("invalid commands reached the room: %v", c.calls)
	}
}
