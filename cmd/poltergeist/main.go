// Command poltergeist is the CLI entrypoint for the build daemon.
package main

import (
	"fmt"
	"os"

	"github.com/poltergeist/poltergeist/pkg/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
