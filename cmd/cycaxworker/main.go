package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cycaxworker/internal/services"
)

// Exit codes. Configuration and spec problems need an operator before a
// rerun can succeed; everything else may pass on retry.
const (
	exitFailure  = 1
	exitOperator = 2
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(reportFailure(os.Stderr, err))
	}
}

// reportFailure prints err with the hint for its kind and returns the
// process exit code. Interrupted runs exit quietly.
func reportFailure(w io.Writer, err error) int {
	if errors.Is(err, context.Canceled) {
		return exitFailure
	}
	fmt.Fprintln(w, err)
	if services.Kind(err) == "unknown" {
		return exitFailure
	}
	fmt.Fprintf(w, "hint: %s\n", services.Details(err).Hint)
	if !services.Retryable(err) {
		return exitOperator
	}
	return exitFailure
}
