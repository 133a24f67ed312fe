package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tabimport/internal/cli"
)

func main() {
	// A missing .env is fine; the environment is used as is
	_ = godotenv.Overload()

	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
