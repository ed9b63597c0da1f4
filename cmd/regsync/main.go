// Package main is the entry point for the regsync command.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/regsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
