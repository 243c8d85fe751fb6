package main

import (
	"os"

	"github.com/tortoisewolfe/securemsg/cmd/securemsg/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
