// Package main is the entry point for the appboot deployment bootstrapper.
package main

import (
	"fmt"
	"os"

	"appboot/cmd"
)

// main is the entry point.
func main() {
	root := cmd.NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
