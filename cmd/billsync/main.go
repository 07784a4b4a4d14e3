// Command billsync drives the purchase reconciler from the command line:
// scenario simulation against the sandbox source, receipt signing and
// verification, and catalog inspection.
package main

import (
	"fmt"
	"os"

	"github.com/xraph/billsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
