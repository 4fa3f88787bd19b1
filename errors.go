package dux

import (
	"errors"
	"fmt"
)

// ErrNoSnapshot is returned by SnapshotStore implementations when no
// snapshot exists for the requested store ID.
var ErrNoSnapshot = errors.New("dux: no snapshot")

// UnknownTokenError is returned by Unsubscribe when the supplied token does
// not identify a currently registered subscriber: it was never issued, was
// already removed, or belongs to a different store.
type UnknownTokenError struct {
	Token Token
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("dux: no subscription for token %d", e.Token)
}
