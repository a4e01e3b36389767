package kernel

import (
	"fmt"
	"strings"
)

// MalformedInputError reports a kernel file that is not a JSON object.
type MalformedInputError struct {
	Path string
	Err  error
}

func (e *MalformedInputError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed kernel: %v", e.Err)
	}
	return fmt.Sprintf("malformed kernel %s: %v", e.Path, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// MissingRequiredFieldError lists every required path the kernel lacks.
type MissingRequiredFieldError struct {
	Paths []string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("kernel missing required fields: %s", strings.Join(e.Paths, ", "))
}
