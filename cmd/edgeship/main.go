// Package main implements the edgeship binary.
package main

import (
	"fmt"
	"os"

	"github.com/airfi/edgeship/internal/cli"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd := cli.NewRootCommand(cli.BuildInfo{Version: version, Commit: commit})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "edgeship: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
