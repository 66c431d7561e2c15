package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransport       = errors.New("transport error")
	ErrNotFound        = errors.New("not found")
	ErrRejected        = errors.New("rejected by server")
	ErrFileSystem      = errors.New("filesystem error")
	ErrMissingArtifact = errors.New("missing artifact")
	ErrInvalidAxis     = errors.New("invalid rotation axis")
	ErrExternalTool    = errors.New("external tool error")
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
)

// markers lists the sentinel errors in classification priority order.
var markers = []error{
	ErrConfiguration,
	ErrValidation,
	ErrInvalidAxis,
	ErrMissingArtifact,
	ErrNotFound,
	ErrRejected,
	ErrFileSystem,
	ErrExternalTool,
	ErrTransport,
}

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransport
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns the short name of the marker carried by err, or "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return strings.ReplaceAll(marker.Error(), " ", "_")
		}
	}
	return "unknown"
}

// Retryable reports whether a failure is worth retrying on a later poll cycle
// without operator action.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidAxis):
		return false
	default:
		return true
	}
}

// ErrorDetails is the structured view of a wrapped error used for logging.
type ErrorDetails struct {
	Kind    string
	Message string
	Hint    string
	Cause   error
}

// Details extracts logging attributes from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{
		Kind:    Kind(err),
		Message: strings.TrimSpace(err.Error()),
		Cause:   cause(err),
	}
	switch {
	case errors.Is(err, ErrTransport):
		details.Hint = "check that the job server is reachable"
	case errors.Is(err, ErrNotFound):
		details.Hint = "the job server has no such resource; it will be retried next poll"
	case errors.Is(err, ErrMissingArtifact):
		details.Hint = "confirm the part job produced its mesh artifact"
	case errors.Is(err, ErrFileSystem):
		details.Hint = "check staging directory permissions and free space"
	case errors.Is(err, ErrInvalidAxis), errors.Is(err, ErrValidation):
		details.Hint = "fix the job spec on the server"
	case errors.Is(err, ErrExternalTool):
		details.Hint = "check the scene engine binary and its output"
	case errors.Is(err, ErrRejected):
		details.Hint = "the server refused the request; inspect server logs"
	case errors.Is(err, ErrConfiguration):
		details.Hint = "edit the configuration file"
	default:
		details.Hint = "check logs for details"
	}
	return details
}

// cause returns the underlying error passed to Wrap, skipping the marker.
func cause(err error) error {
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		errs := multi.Unwrap()
		if len(errs) > 1 {
			return errs[len(errs)-1]
		}
		return nil
	}
	inner := errors.Unwrap(err)
	for _, marker := range markers {
		if inner == marker {
			return nil
		}
	}
	return inner
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
