// Package main is the entry point for the vaultrelay CLI.
package main

import (
	"os"

	"github.com/codephyt/vaultrelay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
