package main

import (
	"fmt"
	"os"

	"github.com/roach88/hubd/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hubd:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
