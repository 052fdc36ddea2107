package main

import (
	"fmt"
	"os"
)

// Version is set at build time.
var Version string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
