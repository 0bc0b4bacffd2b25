package main

import (
	"os"

	"github.com/unimem/unimem/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
