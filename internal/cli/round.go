package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/resume"
)

// roomAction builds a command that acts on one room as the saved player
func roomAction(use, short string, nargs int, run func(cmd *cobra.Command, rc resume.RoomContext, args []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs + 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := identity(model.RoomID(args[0]))
			if err != nil {
				return err
			}

			msg, err := run(cmd, rc, args[1:])
			if err != nil {
				return err
			}

			output(cmd).PrintMessage(msg)
			return nil
		},
	}
}

// updateHint records a creator role change in the state file. The next
// snapshot corrects it either way.
func updateHint(rc resume.RoomContext, creator bool) error {
	if cfg.PlayerID != "" {
		return nil
	}
	if _, ok, err := store.Load(rc.RoomID); err != nil || !ok {
		return err
	}
	rc.CreatorHint = creator
	if err := store.Save(rc); err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

func newVoteCmd() *cobra.Command {
	return roomAction("vote <roomId> <card>", "Vote in the current round", 1,
		func(cmd *cobra.Command, rc resume.RoomContext, args []string) (string, error) {
			card := model.Card(args[0])
			if err := client.Vote(cmd.Context(), rc.RoomID, rc.PlayerID, card); err != nil {
				return "", err
			}
			return fmt.Sprintf("Voted %s", card), nil
		})
}

func newRevealCmd() *cobra.Command {
	return roomAction("reveal <roomId>", "Reveal all votes (creator only)", 0,
		func(cmd *cobra.Command, rc resume.RoomContext, args []string) (string, error) {
			if err := client.Reveal(cmd.Context(), rc.RoomID, rc.PlayerID); err != nil {
				return "", err
			}
			return "Cards revealed", nil
		})
}

func newResetCmd() *cobra.Command {
	return roomAction("reset <roomId>", "Archive the round and start a new one (creator only)", 0,
		func(cmd *cobra.Command, rc resume.RoomContext, args []string) (string, error) {
			if err := client.Reset(cmd.Context(), rc.RoomID, rc.PlayerID); err != nil {
				return "", err
			}
			return "Voting reset", nil
		})
}

func newLinkCmd() *cobra.Command {
	return roomAction("link <roomId> <url>", "Set the room link (creator only)", 1,
		func(cmd *cobra.Command, rc resume.RoomContext, args []string) (string, error) {
			if err := client.SetLink(cmd.Context(), rc.RoomID, rc.PlayerID, args[0]); err != nil {
				return "", err
			}
			return "Link updated", nil
		})
}

func newTransferCmd() *cobra.Command {
	return roomAction("transfer <roomId> <playerId>", "Hand the creator role to another player", 1,
		func(cmd *cobra.Command, rc resume.RoomContext, args []string) (string, error) {
			to := model.PlayerID(args[0])
			if err := client.TransferCreator(cmd.Context(), rc.RoomID, rc.PlayerID, to); err != nil {
				return "", err
			}
			if err := updateHint(rc, false); err != nil {
				return "", err
			}
			return fmt.Sprintf("Creator handed to %s", to), nil
		})
}

func newClaimCmd() *cobra.Command {
	return roomAction("claim <roomId>", "Claim the creator role of a room without one", 0,
		func(cmd *cobra.Command, rc resume.RoomContext, args []string) (string, error) {
			if err := client.ClaimCreator(cmd.Context(), rc.RoomID, rc.PlayerID); err != nil {
				return "", err
			}
			if err := updateHint(rc, true); err != nil {
				return "", err
			}
			return "You are now the creator", nil
		})
}

func newLeaveCmd() *cobra.Command {
	return roomAction("leave <roomId>", "Leave a room and forget it", 0,
		func(cmd *cobra.Command, rc resume.RoomContext, args []string) (string, error) {
			err := client.Leave(cmd.Context(), rc.RoomID, rc.PlayerID)
			if err != nil && model.KindOf(err) != model.KindNotFound {
				return "", err
			}
			if err := store.Clear(rc.RoomID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Left room %s", rc.RoomID), nil
		})
}
