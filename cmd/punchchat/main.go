package main

import (
	"os"

	"github.com/opd-ai/punchchat/cmd/punchchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
