package mqtt

import "errors"

// ErrPublishTimeout is returned when the broker does not confirm a publish
// before the deadline.
var ErrPublishTimeout = errors.New("timeout waiting for publish confirmation")

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt client not connected")
