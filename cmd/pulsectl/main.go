// Package main provides the pulsectl CLI entry point: one-shot
// operational commands against the pulseboard fetch pipeline.
package main

import (
	"fmt"
	"os"

	"pulseboard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
