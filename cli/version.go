package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"clashkit/utils"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), utils.Version)
			return nil
		},
	}
}
