package main

import (
	"os"

	"github.com/vkngwrapper/foundry/cmd/foundry/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
