package vectorstore

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyVector is returned when an empty vector is supplied.
	ErrEmptyVector = errors.New("vector must not be empty")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrDuplicateID indicates an insert with an id that is already stored.
type ErrDuplicateID struct {
	ID string
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("duplicate id: %q", e.ID)
}

// ErrIDNotFound indicates a lookup or removal of an unknown id.
type ErrIDNotFound struct {
	ID string
}

func (e *ErrIDNotFound) Error() string {
	return fmt.Sprintf("id not found: %q", e.ID)
}

// ErrInvalidPosition indicates a reconstruct request outside the store.
type ErrInvalidPosition struct {
	Position int
	Count    int
}

func (e *ErrInvalidPosition) Error() string {
	return fmt.Sprintf("invalid position %d (store holds %d)", e.Position, e.Count)
}
