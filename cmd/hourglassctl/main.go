package main

import (
	"os"

	"github.com/seantiz/hourglass/cmd/hourglassctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
