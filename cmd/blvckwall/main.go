// ABOUTME: Entry point for the blvckwall client CLI
// ABOUTME: Reads and writes owner records through the unified data access layer

package main

import (
	"os"

	"github.com/fatih/color"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
