package cluster

import "errors"

// Failure kinds raised by Cluster.
var (
	// ErrNotConnected is returned when an operation is attempted against a
	// disconnected Cluster.
	ErrNotConnected = errors.New("cluster: not connected")
	// ErrNoNodeSelected is returned by SelectNode when no node matches the
	// selector within the caller's timeout.
	ErrNoNodeSelected = errors.New("cluster: no node selected within timeout")
	// ErrCancelled is returned by SelectNode/Connect when the caller's
	// context is cancelled while waiting.
	ErrCancelled = errors.New("cluster: cancelled")
)
