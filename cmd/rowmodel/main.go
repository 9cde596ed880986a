// Command rowmodel inspects and maintains databases used through the
// rowmodel runtime.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rowmodel/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
