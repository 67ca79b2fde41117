package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess = 0 // Run finished, count discrepancies included
	ExitError   = 1 // Configuration or runtime error
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitError)
	}
}
