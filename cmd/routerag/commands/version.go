package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/routerag-go/internal/version"
)

// NewVersionCmd constructs the `routerag version` subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the routerag version, git commit, and build date",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
