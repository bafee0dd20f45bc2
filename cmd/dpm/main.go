// Package main is the entry point for the dpm CLI binary.
package main

import (
	"os"

	"dpm/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
