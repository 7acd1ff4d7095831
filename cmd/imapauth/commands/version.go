package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitpan/Authen-Simple-IMAP/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "imapauth %s\n", version.Current())
		},
	}
}
