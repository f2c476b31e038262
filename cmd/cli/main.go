// Package main is the entry point for the duckpool CLI binary.
package main

import (
	"os"

	cli "github.com/PCNicolo/duck-db-proj-sub001/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
