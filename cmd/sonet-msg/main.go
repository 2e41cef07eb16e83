package main

import (
	"os"

	"github.com/sonet-social/messaging/cmd/sonet-msg/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
