// Command passport registers, unlocks and maintains a passport stored in a
// content-addressed store plus a locator database.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
