package main

import (
	"os"

	"github.com/gitpan/Authen-Simple-IMAP/cmd/imapauth/commands"
)

func main() {
	os.Exit(commands.Execute())
}
