package main

import (
	"os"

	"github.com/lazypower/storywalk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
