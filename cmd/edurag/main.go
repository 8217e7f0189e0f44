package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	if err := run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}
