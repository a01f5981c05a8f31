package chargemode

import "errors"

var (
	// ErrInvalidMode is returned for a charge mode outside the known set.
	ErrInvalidMode = errors.New("invalid charge mode")
	// ErrInvalidLocation is returned for a location other than inside or outside.
	ErrInvalidLocation = errors.New("invalid location")
	// ErrNotPersisted is returned when a mode was applied but could not be
	// saved. The change is live until the next restart.
	ErrNotPersisted = errors.New("charge modes not persisted")
)
