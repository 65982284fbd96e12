// Command awexport keeps timewarrior in step with ActivityWatch.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/awexport/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
