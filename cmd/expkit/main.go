// Command expkit manages experiment records, their provenance and batch
// tool runs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/expkit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
