package main

import (
	"fmt"
	"os"

	"github.com/mickyco94/labyrinth/internal/command"
)

func main() {
	if err := command.New().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
