// Package main provides the entry point for the echovault CLI.
package main

import (
	"os"

	"github.com/echovault-sync/echovault/cmd/echovault/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
