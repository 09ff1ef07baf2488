package main

import (
	"os"

	"github.com/loomline-systems/loomline/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
