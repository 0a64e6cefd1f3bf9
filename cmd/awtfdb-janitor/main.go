// Package main provides awtfdb-janitor, the offline consistency checker
// for the index.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes: 0 clean, 1 help/version/failure, 2 problems found without
// --repair.
const (
	exitClean         = 0
	exitHelpOrFailure = 1
	exitProblems      = 2
)

// Sentinel errors RunE uses to pick an exit code.
var (
	errShowedVersion = errors.New("version shown")
	errProblemsFound = errors.New("problems found")
)

func main() {
	err := rootCmd.Execute()
	switch {
	case helpShown || errors.Is(err, errShowedVersion):
		os.Exit(exitHelpOrFailure)
	case errors.Is(err, errProblemsFound):
		os.Exit(exitProblems)
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitHelpOrFailure)
	}
	os.Exit(exitClean)
}
