package facematch

import (
	"errors"
	"fmt"

	"github.com/mcpmessenger/shine-skincare-app-sub001/persistence"
	"github.com/mcpmessenger/shine-skincare-app-sub001/vectorstore"
)

var (
	// ErrUnavailable is returned after Close, or when the engine could not
	// be brought up. Permanent for the lifetime of the instance.
	ErrUnavailable = errors.New("engine unavailable")

	// ErrNotFound is returned when an id is not stored.
	ErrNotFound = errors.New("not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrCorruption is returned when persisted state failed validation.
	// The index stays empty until Rebuild recovers what it can.
	ErrCorruption = errors.New("corruption detected; rebuild required")

	// ErrSerialization is returned when a save or load fails at the I/O or
	// encoding layer. On-disk state is left as it was before the attempt.
	ErrSerialization = errors.New("serialization failure")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrDuplicateID indicates an add with an id that is already stored.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDuplicateID struct {
	ID    string
	cause error
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("duplicate id: %q", e.ID)
}

func (e *ErrDuplicateID) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	var nf *vectorstore.ErrIDNotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Dimension and argument normalization.
	var dm *vectorstore.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var dup *vectorstore.ErrDuplicateID
	if errors.As(err, &dup) {
		return &ErrDuplicateID{ID: dup.ID, cause: err}
	}
	if errors.Is(err, vectorstore.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	if errors.Is(err, persistence.ErrCorruption) {
		return fmt.Errorf("%w: %w", ErrCorruption, err)
	}

	return err
}

// translateIOError folds save/load failures into the serialization bucket
// while keeping corruption distinguishable.
func translateIOError(err error) error {
	if err == nil {
		return nil
	}
	err = translateError(err)
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSerialization, err)
}
