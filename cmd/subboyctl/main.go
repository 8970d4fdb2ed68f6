package main

import (
	"os"

	"github.com/maximaxme/subboy/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
