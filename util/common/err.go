// Package common provides shared error helpers used across services.
package common

import (
	"errors"
	"fmt"

	"submaster/logger"
)

// Sentinel errors shared by the pool, engine and lifecycle layers.
var (
	// ErrNoNodeAvailable means the pool has no node that can accept an
	// assignment. Callers must treat it as a hard stop.
	ErrNoNodeAvailable = errors.New("no node available")

	// ErrNodeUnavailable means the subscriber's node exists but could not
	// be reached or is missing from the pool.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrClientNotFound means the subscriber has no access record on the
	// remote node. Distinct from ErrNodeUnavailable so profile views can
	// tell "never subscribed" from a transient failure.
	ErrClientNotFound = errors.New("client not found on node")
)

// NewError builds an error joining all args with a space.
func NewError(args ...any) error {
	format := ""
	for range args {
		format += " %v"
	}
	return fmt.Errorf(format[1:], args...)
}

// NewErrorf builds a formatted error.
func NewErrorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Recover logs a recovered panic value and returns it, optionally
// rethrowing. Used by long-lived job loops.
func Recover(msg string) any {
	panicErr := recover()
	if panicErr != nil {
		if msg != "" {
			logger.Error(msg, "recover from panic:", panicErr)
		}
	}
	return panicErr
}
