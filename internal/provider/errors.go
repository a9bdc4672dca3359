package provider

import "fmt"

// UnknownFieldError is returned when a predicate references a field the
// provider does not have.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}
