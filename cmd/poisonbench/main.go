// Package main is the entry point for the poisonbench CLI.
package main

import (
	"fmt"
	"os"

	"github.com/poisonlab/poisonbench/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
