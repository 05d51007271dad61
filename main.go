// ./main.go
package main

import (
	"github.com/voidgazer8/deskpilot-cli/cmd"
)

// main is the entry point for the deskpilot CLI. All command-line parsing,
// configuration and execution happens in the cmd package.
func main() {
	cmd.Execute()
}
