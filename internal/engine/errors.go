package engine

import "errors"

// Sentinel errors for engine lifecycle.
var (
	// ErrNotBootstrapped indicates a visit sync gave up waiting for bootstrap.
	ErrNotBootstrapped = errors.New("destination not bootstrapped")
	// ErrInvalidPolicy indicates an unrecognized validity policy.
	ErrInvalidPolicy = errors.New("invalid validity policy")
)
