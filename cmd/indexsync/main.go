// Command indexsync keeps a search index in sync with a SQLite record store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/indexsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
