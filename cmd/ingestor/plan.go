package main

import (
	"encoding/json"
	"flag"
	"fmt"
)

// runPlan prints the plan summary and its requests as JSON. It does not
// contact the archive.
func runPlan(args []string) int {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	pf := addPlanFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: ingestor plan [options]

Print the monthly archive requests for a selection without retrieving them.

Options:`)
		fs.PrintDefaults()
	}

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := pf.load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	plan, err := cfg.Plan()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	fmt.Fprintln(stdout, plan.String())

	reqs := plan.Requests()
	if len(reqs) == 0 {
		fmt.Fprintln(stderr, "[ingestor] No time selection, nothing to request")
		return ExitSuccess
	}

	data, err := json.MarshalIndent(reqs, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	fmt.Fprintln(stdout, string(data))
	fmt.Fprintf(stderr, "[ingestor] %d requests\n", len(reqs))
	return ExitSuccess
}
