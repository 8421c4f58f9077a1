package job

import (
	"errors"
	"fmt"
)

// TupleError records the failure of one tuple in a sequential job.
type TupleError struct {
	// Index is the position of the tuple in the matched lists.
	Index int

	// Name is the name of the primary input record.
	Name string

	Err error
}

// Error implements the error interface.
func (e *TupleError) Error() string {
	return fmt.Sprintf("tuple %d (%s): %v", e.Index, e.Name, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TupleError) Unwrap() error {
	return e.Err
}

// IsTupleError reports whether err wraps a TupleError.
func IsTupleError(err error) bool {
	var te *TupleError
	return errors.As(err, &te)
}
