package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/planning-poker/internal/api/response"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Health(cmd.Context()); err != nil {
				return err
			}

			output(cmd).Print(response.Health{Status: "ok"})
			return nil
		},
	}
}
