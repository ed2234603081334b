package stream

import "errors"

var (
	// ErrNotConnected indicates the client has no live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrSendTimeout indicates the outbound queue was full for too long.
	ErrSendTimeout = errors.New("send timeout")
	// ErrMaxRetriesExceeded indicates connection retries were exhausted.
	ErrMaxRetriesExceeded = errors.New("max connection retries exceeded")
	// ErrConnectionLost indicates the connection dropped unexpectedly.
	ErrConnectionLost = errors.New("connection lost")
)
