package connection

import "errors"

// Failure kinds raised by Pool.Acquire/Release/Close.
var (
	// ErrPoolClosed is returned by Acquire once the pool has started or
	// finished closing.
	ErrPoolClosed = errors.New("connection: pool is closed")
	// ErrTimeout is returned by Acquire when the wait for an idle slot or a
	// newly dialed connection exceeds the caller's timeout.
	ErrTimeout = errors.New("connection: acquire timed out")
	// ErrCancelled is returned by Acquire when the caller's context is
	// cancelled while waiting.
	ErrCancelled = errors.New("connection: acquire cancelled")
	// ErrConnectFailed is returned by Acquire when dialing a fresh
	// connection fails at the network level.
	ErrConnectFailed = errors.New("connection: connect failed")
)
