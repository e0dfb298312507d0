package vector

import (
	"errors"
	"fmt"
)

// ErrEmptyVector is returned when a zero-length vector is inserted.
var ErrEmptyVector = errors.New("vector must not be empty")

// DimensionMismatchError reports a vector whose length disagrees with the
// store's dimensionality.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
