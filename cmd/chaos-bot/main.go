package main

import (
	"os"

	"github.com/MinchaoZhu/chaos-bot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
