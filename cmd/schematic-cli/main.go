package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/tracewire/schematic-extractor/cmd/schematic-cli/commands"
)

func main() {
	// A missing .env is fine; environment variables still apply.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
