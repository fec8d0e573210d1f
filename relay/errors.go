package relay

import "errors"

var (
	// ErrAckTimeout degrades a link whose pushed records stayed
	// unacknowledged past the configured timeout.
	ErrAckTimeout = errors.New("acknowledgment timed out")

	// ErrLivenessTimeout degrades a link with no inbound traffic within the
	// liveness window.
	ErrLivenessTimeout = errors.New("no traffic within liveness timeout")

	// ErrTooManyStrikes degrades a link that keeps sending malformed
	// messages.
	ErrTooManyStrikes = errors.New("malformed message strike limit reached")
)
