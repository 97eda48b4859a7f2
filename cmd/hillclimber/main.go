// Package main is the entry point for the hillclimber engine.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/anthropics/hillclimber-engine/internal/cli"
)

func main() {
	// API keys and ollama host may live in a local .env; absence is fine.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
