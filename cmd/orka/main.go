// orka is the CLI for orchestrating assistant sessions under tmux.
package main

import (
	"os"

	"github.com/enruana/claude-orka/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
