package visit

import "errors"

// Sentinel errors for visit validation.
var (
	// ErrUnknownKind indicates a visit kind with no processing profile.
	ErrUnknownKind = errors.New("unknown visit kind")
	// ErrMissingField indicates a required visit field is empty.
	ErrMissingField = errors.New("required field missing")
)
