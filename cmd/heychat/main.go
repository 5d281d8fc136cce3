package main

import (
	"os"

	"github.com/pinpox/heychat/cmd/heychat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
