// Package commands implements the imapauth command line.
package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Exit codes returned by Execute.
const (
	ExitOK       = 0
	ExitRejected = 1
	ExitError    = 2
)

// exitError carries a process exit code out of a RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// NewRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "imapauth",
		Short: "Check a username and password against an IMAP server",
		Long: `imapauth verifies credentials by logging in to an IMAP or IMAPS server.

Use "imapauth [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCheckCmd())
	root.AddCommand(newVersionCmd())
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// Execute runs the CLI with os.Args and maps the outcome to an exit code.
func Execute() int {
	return run(NewRootCmd())
}

func run(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			cmd.PrintErrln("Error:", ee.err)
		}
		return ee.code
	}
	cmd.PrintErrln("Error:", err)
	return ExitError
}
