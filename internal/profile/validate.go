package profile

import (
	"errors"
	"fmt"
)

// ValidationError is one problem found in a profile file.
type ValidationError struct {
	// Profile is the profile the problem belongs to, or "(file)" for
	// problems with the file as a whole.
	Profile string `json:"profile"`

	// Message describes the problem.
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Profile, e.Message)
}

// ValidateFile resolves every profile in f and reports every problem it
// finds instead of stopping at the first one. An empty result means all
// profiles can be launched.
func ValidateFile(f *File) []ValidationError {
	var problems []ValidationError

	if len(f.Profiles) == 0 {
		problems = append(problems, ValidationError{
			Profile: "(file)",
			Message: "no profiles defined",
		})
		return problems
	}

	for _, name := range f.Names() {
		if _, err := f.Resolve(name); err != nil {
			for _, leaf := range leafErrors(err) {
				problems = append(problems, ValidationError{Profile: name, Message: leaf.Error()})
			}
		}
	}
	return problems
}

// leafErrors unwraps single-error wrappers down to the first errors.Join
// and returns its members. An error that joins nothing is its own leaf.
func leafErrors(err error) []error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if multi, ok := e.(interface{ Unwrap() []error }); ok {
			var leaves []error
			for _, inner := range multi.Unwrap() {
				leaves = append(leaves, leafErrors(inner)...)
			}
			return leaves
		}
	}
	return []error{err}
}
