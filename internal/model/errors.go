package model

import "fmt"

// ExitCode defines the CLI exit codes. These codes allow scripts and CI
// systems to programmatically determine the outcome of a command.
//
// When the trainer itself exits with a non-zero status, that status is
// propagated unchanged (see ExitFromProcess) and may overlap these values.
type ExitCode int

const (
	ExitSuccess      ExitCode = 0
	ExitGeneralError ExitCode = 1

	// ExitProfileNotFound indicates the profile file or the named profile
	// does not exist.
	ExitProfileNotFound ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 3

	// ExitInvalidProfile indicates a profile failed validation or a
	// preflight check.
	ExitInvalidProfile ExitCode = 4

	ExitGitError ExitCode = 5

	// ExitRunNotFound indicates the run ID is not in the history or no
	// managed container carries it.
	ExitRunNotFound ExitCode = 6

	ExitUserCancelled ExitCode = 7

	// ExitModelMissing indicates a test run was requested for a model
	// directory without a checkpoint.
	ExitModelMissing ExitCode = 8

	ExitPortAllocationFailed ExitCode = 9
)

// ExitFromProcess converts a child process exit status to an ExitCode.
// Statuses outside 1..255 map to ExitGeneralError.
func ExitFromProcess(status int) ExitCode {
	if status < 1 || status > 255 {
		return ExitGeneralError
	}
	return ExitCode(status)
}

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
