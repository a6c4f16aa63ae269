package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/socialauth/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "socialauth: %v\n", err)
		os.Exit(1)
	}
}
