package device

import "errors"

// Domain errors for the device package.
var (
	// ErrInvalidSnapshot is returned when a snapshot has no id or cannot be decoded.
	ErrInvalidSnapshot = errors.New("device: invalid snapshot")

	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("device: store unavailable")
)
