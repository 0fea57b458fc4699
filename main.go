// The main package for the topic-catalog executable.
package main

import (
	"github.com/JakeFAU/quizbowl-topic-catalog/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
