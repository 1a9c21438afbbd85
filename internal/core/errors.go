package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Failure codes.
const (
	CodeInvalidAmount      = "invalid_amount"
	CodeInvalidConfig      = "invalid_config"
	CodeOperationCancelled = "operation_cancelled"
)

// Failure captures transport-neutral error details. Two failures match under
// errors.Is when their codes are equal; Cause is reachable through Unwrap.
type Failure struct {
	Code   string
	Detail string
	Cause  error
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidAmount      = Failure{Code: CodeInvalidAmount}
	ErrInvalidConfig      = Failure{Code: CodeInvalidConfig}
	ErrOperationCancelled = Failure{Code: CodeOperationCancelled}
)

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// Unwrap exposes the underlying cause, typically a context error.
func (f Failure) Unwrap() error {
	return f.Cause
}

// Is reports whether target is a Failure with the same code.
func (f Failure) Is(target error) bool {
	var other Failure
	switch t := target.(type) {
	case Failure:
		other = t
	case *Failure:
		if t == nil {
			return false
		}
		other = *t
	default:
		return false
	}
	return other.Code == f.Code
}

// Code extracts the failure code from err, or "" when err is not a Failure.
func Code(err error) string {
	var f Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

func invalidAmount(op string, amount decimal.Decimal) error {
	return Failure{
		Code:   CodeInvalidAmount,
		Detail: fmt.Sprintf("%s amount must be positive, got %s", op, amount.String()),
	}
}

func cancelled(op string, cause error) error {
	return Failure{
		Code:   CodeOperationCancelled,
		Detail: fmt.Sprintf("%s cancelled: %v", op, cause),
		Cause:  cause,
	}
}

// invariant aborts on a broken internal invariant. Correct locking makes these
// unreachable, so observing one is a defect rather than a recoverable error.
func invariant(format string, args ...any) {
	panic(fmt.Sprintf("invariant violated: "+format, args...))
}
