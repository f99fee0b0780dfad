// Package model defines the domain types and value objects for the
// svbrdf-run CLI.
//
// This package contains pure data structures with no external dependencies.
// RunProfile describes one invocation of the SVBRDF trainer (the flags the
// old shell scripts used to set), RunRecord describes one launched run as
// stored in the history database, and Summary holds the training progress
// parsed from the trainer's output.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
