// Command apsync connects a game to an Archipelago multiworld server.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/apsync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "apsync:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
