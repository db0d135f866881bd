package main

import (
	"fmt"
	"os"

	"github.com/lotas/cognito/internal/config"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	app := newCLIApp(config.Load)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
