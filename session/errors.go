package session

import "errors"

// Failure kinds raised by Session/ChannelProvider.
var (
	// ErrDisposed is returned by any call on an already-Disposed Session or
	// ChannelProvider.
	ErrDisposed = errors.New("session: disposed")
	// ErrNodeSelectionLost is returned when the node a ChannelProvider was
	// built against no longer satisfies the operation's own ReadPreference.
	// The caller, not this core, decides whether to retry.
	ErrNodeSelectionLost = errors.New("session: node selection lost")
)
