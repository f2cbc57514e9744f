package main

import (
	"os"

	"github.com/stake-plus/mememo/src/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
