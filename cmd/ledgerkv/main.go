// Command ledgerkv is a key-value store on an append-only blob ledger.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ledgerkv/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
