package main

import (
	"context"
	"fmt"
	"os"

	"rizo-card-bot/internal/bootstrap"
)

func main() {
	fmt.Println("RIZO Card Bot starting...")

	if err := bootstrap.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
}
