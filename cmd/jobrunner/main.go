// Command jobrunner executes a compiled step plan.
//
// Usage:
//
//	jobrunner [--run-id ID] [--workdir DIR] <plan.yaml>
//
// Exit status is 0 when every step succeeds, the failing step's exit code
// otherwise, 2 for an unreadable or invalid plan and 130 when interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/runner"
)

func main() {
	cmd := runner.NewCommand(os.Stdout, os.Stderr)
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}

	var exitErr *runner.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(os.Stderr, "jobrunner: %v\n", exitErr.Err)
		}
		os.Exit(exitErr.Code)
	}

	fmt.Fprintf(os.Stderr, "jobrunner: %v\n", err)
	os.Exit(runner.ExitInvalidPlan)
}
