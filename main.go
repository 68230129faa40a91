// Command pubflow runs one of the publication workflow substrate's
// long-poll processes: decider, worker, queueworker, starter, or cron.
package main

import (
	"fmt"
	"os"

	"github.com/elifesciences/pubflow/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
