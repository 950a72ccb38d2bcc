package errutil

import (
	"context"
	"errors"
	"fmt"
)

// IsAny reports the first of target and targets that err matches.
func IsAny(err error, target error, targets ...error) (error, bool) {
	for _, t := range append([]error{target}, targets...) {
		if errors.Is(err, t) {
			return t, true
		}
	}
	return nil, false
}

// IsContext reports whether ctx has been canceled or has expired.
func IsContext(ctx context.Context) bool {
	switch err := ctx.Err(); {
	case nil == err:
		return false
	default:
		return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
}

// UnknownError is the panic message for an error no branch of a caller's
// error switch accounts for.
func UnknownError(err error) string {
	return fmt.Sprintf("unhandled error %T: %v", err, err)
}
