// Package errors defines the stable error codes reported by smeder.
package errors

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// Code is a stable error code string.
type Code string

const (
	EUsage    Code = "E_USAGE"
	EConfig   Code = "E_CONFIG"
	EInternal Code = "E_INTERNAL"
	ELocked   Code = "E_LOCKED"
	ECanceled Code = "E_CANCELLED"

	// Fatal before any filesystem mutation.
	EInvalidAgentName     Code = "E_INVALID_AGENT_NAME"
	EUnresolvableLocation Code = "E_UNRESOLVABLE_LOCATION"

	// Slot conflicts. Planning halts for the slot only.
	EDuplicateCharter    Code = "E_DUPLICATE_CHARTER"
	EDuplicateIntentPair Code = "E_DUPLICATE_INTENT_PAIR"
	EDuplicateRunner     Code = "E_DUPLICATE_RUNNER"
	EDuplicateBoundary   Code = "E_DUPLICATE_BOUNDARY"
	EOwnershipAmbiguous  Code = "E_OWNERSHIP_AMBIGUOUS"
	EMissingEdge         Code = "E_MISSING_EDGE"
	EDestinationOccupied Code = "E_DESTINATION_OCCUPIED"

	// Execution.
	EStagingFailure Code = "E_STAGING_FAILURE"
	ECommitFailure  Code = "E_COMMIT_FAILURE"
)

// SmederError is the standard error type carrying a stable code.
type SmederError struct {
	Code    Code
	Msg     string
	Cause   error
	Details map[string]string
}

// Error returns the stable error format: "CODE: message".
func (e *SmederError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SmederError) Unwrap() error {
	return e.Cause
}

// New creates a new SmederError with the given code and message.
func New(code Code, msg string) error {
	return &SmederError{Code: code, Msg: msg}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) error {
	return &SmederError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NewWithDetails creates a new SmederError with code, message, and details.
func NewWithDetails(code Code, msg string, details map[string]string) error {
	return &SmederError{Code: code, Msg: msg, Details: copyDetails(details)}
}

// Wrap creates a new SmederError wrapping an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &SmederError{Code: code, Msg: msg, Cause: err}
}

// GetCode extracts the error code from an error, or empty string if not a SmederError.
func GetCode(err error) Code {
	var se *SmederError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// AsSmederError returns (*SmederError, true) if err is or wraps a SmederError.
func AsSmederError(err error) (*SmederError, bool) {
	var se *SmederError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func copyDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	cp := make(map[string]string, len(details))
	for k, v := range details {
		cp[k] = v
	}
	return cp
}

// ExitCode maps an error to a process exit code.
// 0 for nil, 2 for E_USAGE, 3 for E_COMMIT_FAILURE (manual recovery), 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch GetCode(err) {
	case EUsage:
		return 2
	case ECommitFailure:
		return 3
	default:
		return 1
	}
}

// Print writes the error to w in the stable stderr format:
//
//	error_code: <CODE>
//	<message>
//	  <detail-key>: <detail-value>
func Print(w io.Writer, err error) {
	if err == nil {
		return
	}
	se, ok := AsSmederError(err)
	if !ok {
		fmt.Fprintln(w, err.Error())
		return
	}
	fmt.Fprintf(w, "error_code: %s\n", se.Code)
	fmt.Fprintln(w, se.Msg)
	if se.Cause != nil {
		fmt.Fprintf(w, "cause: %v\n", se.Cause)
	}
	keys := make([]string, 0, len(se.Details))
	for k := range se.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, se.Details[k])
	}
}
