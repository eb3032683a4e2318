package server

import "errors"

// Server errors.
var (
	ErrNotStarted     = errors.New("server not started")
	ErrAlreadyStarted = errors.New("server already started")

	// ErrRegistryInconsistency indicates a removal for an identity that is
	// not registered. Callers treat it as a warning.
	ErrRegistryInconsistency = errors.New("registry inconsistency")

	// ErrDuplicateIdentity indicates an insert for an identity that is
	// already registered.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrNodeClosed indicates an insert for a node that has already been
	// torn down.
	ErrNodeClosed = errors.New("node closed")

	ErrInvalidConfig = errors.New("invalid config")
)
