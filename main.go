// Package main is the entry point for the v2xtrx V2X transmit/receive pipeline.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/v2xtrx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
