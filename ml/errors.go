package ml

import (
	"fmt"

	"github.com/pkg/errors"
)

// These are the errors returned by the network and its trainers. Failure
// sites wrap them with context, so compare with errors.Is.
var (
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidLayer      = errors.New("invalid layer")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

func dimensionError(op string, want, got int) error {
	return errors.Wrapf(ErrDimensionMismatch, "%s: want length %d, got %d", op, want, got)
}

func indexedOp(op string, idx int) string {
	return fmt.Sprintf("%s %d", op, idx)
}
