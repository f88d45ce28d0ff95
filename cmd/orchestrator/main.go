// Command orchestrator is the operator-facing entrypoint around the
// session-manager core.
package main

import (
	"fmt"
	"os"

	"github.com/ndls21/orchcore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
