// ./main.go
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/xkilldash9x/tabquery/cmd"
	"github.com/xkilldash9x/tabquery/internal/observability"
)

// main is the entry point for the tabquery CLI.
func main() {
	defer handlePanic()
	cmd.Execute()
}

// handlePanic flushes the logger and prints the stack before exiting.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()
		fmt.Fprintf(os.Stderr, "panic: %v\n\n%s", r, debug.Stack())
		os.Exit(2)
	}
}
