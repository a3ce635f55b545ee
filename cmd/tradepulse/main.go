package main

import (
	"os"

	"tradepulse/cmd/tradepulse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
