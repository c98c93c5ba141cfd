// Command tickrun is the process entrypoint for the tick engine and loop
// driver: it parses CLI arguments and dispatches to pkg/tick and pkg/loop,
// neither of which knows anything about flags, argv, or exit codes.
package main

import (
	"fmt"
	"os"

	"github.com/ticklab/runner/pkg/cli"
)

// version is set by the release build via -ldflags.
var version = "dev"

func main() {
	root := cli.NewRootCommand(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
