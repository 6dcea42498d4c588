package main

import (
	"os"

	"github.com/psantana5/watch-and-recover/cmd/watch-and-recover/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
