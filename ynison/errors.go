package ynison

import (
	"errors"
	"fmt"
)

var (
	ErrNoState        = errors.New("no player state")
	ErrNotConnected   = errors.New("state socket is not connected")
	ErrMalformedFrame = errors.New("malformed frame")
)

// ClosedError reports how the state socket ended.
type ClosedError struct {
	Code   int
	Reason string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("state socket closed with code %d: %s", e.Code, e.Reason)
}
