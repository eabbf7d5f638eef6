package dynamo

import (
	"errors"
	"fmt"
)

// Error kinds shared by every solver in the module.
var (
	// ErrConfig indicates invalid input or settings.
	ErrConfig = errors.New("dynamo: invalid configuration")

	// ErrNumerical indicates a numerical failure (singular matrix,
	// non-finite values, failed decomposition).
	ErrNumerical = errors.New("dynamo: numerical failure")

	// ErrNotConverged indicates an iteration exhausted its budget.
	ErrNotConverged = errors.New("dynamo: not converged within budget")

	// ErrInvariant indicates an internal consistency violation.
	ErrInvariant = errors.New("dynamo: invariant violation")
)

// Error carries a human-readable message plus its kind, so callers
// can match with errors.Is while surfacing the message unchanged.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func Configf(format string, args ...any) error {
	return &Error{Kind: ErrConfig, Msg: fmt.Sprintf(format, args...)}
}

func Numericalf(format string, args ...any) error {
	return &Error{Kind: ErrNumerical, Msg: fmt.Sprintf(format, args...)}
}

func NotConvergedf(format string, args ...any) error {
	return &Error{Kind: ErrNotConverged, Msg: fmt.Sprintf(format, args...)}
}

func Invariantf(format string, args ...any) error {
	return &Error{Kind: ErrInvariant, Msg: fmt.Sprintf(format, args...)}
}
