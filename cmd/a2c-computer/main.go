package main

import (
	"os"

	"github.com/vikashloomba/a2c-computer-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
