package main

import (
	"os"

	"github.com/seantiz/traject/cmd/trajectd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
