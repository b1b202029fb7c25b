// Package main provides the entry point for the clawrec CLI.
package main

import (
	"os"

	"github.com/openclaw/clawrec/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
