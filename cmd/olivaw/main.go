package main

import (
	"os"

	"github.com/daneel/olivaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
