package main

import (
	"fmt"
	"io"
	"os"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitInvalidArgs   = 2
	ExitArchiveError  = 3
	ExitStorageError  = 5
	ExitAssemblyError = 7
)

// Standard streams, replaced in tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "plan":
		return runPlan(cmdArgs)
	case "fetch":
		return runFetch(cmdArgs)
	case "info":
		return runInfo(cmdArgs)
	case "cleanup":
		return runCleanup(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(stderr, `Usage: ingestor <command> [options]

Commands:
  plan      Print the monthly archive requests for a selection
  fetch     Retrieve a selection from the ECMWF archive or a mirror bucket
  info      Summarise downloaded files as one time-indexed dataset
  cleanup   Remove the files downloaded by a fetch run

Run 'ingestor <command> -h' for command-specific help.`)
}
