package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/planning-poker/internal/api/response"
	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/resume"
)

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Room management commands",
	}

	cmd.AddCommand(newRoomCreateCmd())
	cmd.AddCommand(newRoomJoinCmd())
	cmd.AddCommand(newRoomGetCmd())
	cmd.AddCommand(newRoomSummaryCmd())
	cmd.AddCommand(newRoomListCmd())

	return cmd
}

func newRoomCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a room and join it as creator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			roomID, playerID, err := client.CreateRoom(cmd.Context(), name)
			if err != nil {
				return err
			}

			rc := resume.RoomContext{RoomID: roomID, PlayerID: playerID, DisplayName: name, CreatorHint: true}
			if err := store.Save(rc); err != nil {
				return fmt.Errorf("failed to save room: %w", err)
			}

			output(cmd).Print(response.Membership{RoomID: roomID, PlayerID: playerID})
			return nil
		},
	}
}

func newRoomJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <roomId> <name>",
		Short: "Join a room as a new player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, name := model.RoomID(args[0]), args[1]

			playerID, err := client.JoinRoom(cmd.Context(), roomID, name)
			if err != nil {
				return err
			}

			if err := store.Save(resume.RoomContext{RoomID: roomID, PlayerID: playerID, DisplayName: name}); err != nil {
				return fmt.Errorf("failed to save room: %w", err)
			}

			output(cmd).Print(response.Membership{RoomID: roomID, PlayerID: playerID})
			return nil
		},
	}
}

func newRoomGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <roomId>",
		Short: "Show a room as you see it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := identity(model.RoomID(args[0]))
			if err != nil {
				return err
			}

			room, err := client.FetchRoom(cmd.Context(), rc.RoomID, rc.PlayerID)
			if err != nil {
				return err
			}

			output(cmd).Print(room)
			return nil
		},
	}
}

func newRoomSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <roomId>",
		Short: "Show round statistics and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := identity(model.RoomID(args[0]))
			if err != nil {
				return err
			}

			summary, err := client.Summary(cmd.Context(), rc.RoomID, rc.PlayerID)
			if err != nil {
				return err
			}

			output(cmd).Print(summary)
			return nil
		},
	}
}

func newRoomListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := store.List()
			if err != nil {
				return err
			}

			output(cmd).Print(rooms)
			return nil
		},
	}
}
