package main

import (
	"os"

	"github.com/keeptower/keeptower/internal/cli"
	"github.com/keeptower/keeptower/internal/util"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(util.HandleError(os.Stderr, err))
	}
}
