// The main package for the edition-fetcher executable.
package main

import (
	_ "time/tzdata"

	"github.com/JakeFAU/edition-fetcher/cmd"
)

// main defers all execution to the cobra CLI.
func main() {
	cmd.Execute()
}
