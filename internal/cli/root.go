package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcoot/planning-poker/internal/model"
	"github.com/mcoot/planning-poker/internal/resume"
	"github.com/mcoot/planning-poker/internal/roomclient"
)

var (
	cfg    *Config
	client *roomclient.Client
	store  *resume.FileStore
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "poker",
		Short: "CLI tool for planning poker rooms",
		Long: `poker is a CLI tool for the planning poker JSON API.

Rooms you create or join are remembered in a state file, so later commands
only need the room id. "poker watch" keeps a live view of a room and
reconnects on its own when the connection drops.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Output != "text" && cfg.Output != "json" {
				return fmt.Errorf("unknown output format %q", cfg.Output)
			}
			client = roomclient.NewClient(cfg.ServerURL)
			store = resume.NewFileStore(cfg.StateFile)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: POKER_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.StateFile, "state-file", cfg.StateFile, "Saved rooms file (env: POKER_STATE_FILE)")
	rootCmd.PersistentFlags().StringVar(&cfg.Transport, "transport", cfg.Transport, "Push transport: sse, ws (env: POKER_TRANSPORT)")
	rootCmd.PersistentFlags().StringVar(&cfg.PlayerID, "player", cfg.PlayerID, "Act as this player id instead of the saved one (env: POKER_PLAYER)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(newRoomCmd())
	rootCmd.AddCommand(newVoteCmd())
	rootCmd.AddCommand(newRevealCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newLinkCmd())
	rootCmd.AddCommand(newTransferCmd())
	rootCmd.AddCommand(newClaimCmd())
	rootCmd.AddCommand(newLeaveCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		NewOutput(cfg.Output, cmd.OutOrStdout(), cmd.ErrOrStderr()).PrintError(err)
		os.Exit(1)
	}
}

// identity returns the saved context for a room, with the --player
// override applied
func identity(roomID model.RoomID) (resume.RoomContext, error) {
	rc, ok, err := store.Load(roomID)
	if err != nil {
		return resume.RoomContext{}, err
	}
	if cfg.PlayerID != "" {
		rc.RoomID = roomID
		rc.PlayerID = model.PlayerID(cfg.PlayerID)
		return rc, nil
	}
	if !ok {
		return resume.RoomContext{}, fmt.Errorf("no saved identity for room %s; join it first or pass --player", roomID)
	}
	return rc, nil
}

// output returns a formatter writing to the command's streams
func output(cmd *cobra.Command) *Output {
	return NewOutput(cfg.Output, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// logger writes reconciler diagnostics to stderr; quiet unless --verbose
func logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
