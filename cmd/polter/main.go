// Command polter is the wrapper-runner front-end: it refuses to execute a
// target's output binary unless Poltergeist's last recorded build succeeded.
package main

import (
	"fmt"
	"os"

	"github.com/poltergeist/poltergeist/pkg/cli"
)

func main() {
	if err := cli.ExecutePolter(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
