package storage

import "errors"

// Backends wrap or return these so callers can match with errors.Is across
// local, IPFS and gRPC stores. ErrImmutable reports a stored block whose
// bytes changed on disk.
var (
	ErrNotFound    = errors.New("storage: block not found")
	ErrInvalidCID  = errors.New("storage: not a passport block CID")
	ErrCIDMismatch = errors.New("storage: block bytes do not hash to the CID")
	ErrImmutable   = errors.New("storage: stored block was modified")
	ErrNoBackends  = errors.New("storage: no backends configured")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
