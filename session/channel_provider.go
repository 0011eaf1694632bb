package session

import (
	"context"
	"sync"

	"github.com/mongodb-labs/session-core/cluster"
	"github.com/mongodb-labs/session-core/connection"
	"github.com/mongodb-labs/session-core/description"
	"github.com/mongodb-labs/session-core/selector"
)

// guardedConnection wraps a pinned Connection so the consumer's Close is a
// no-op: the Session, not the caller, owns disposal of a pinned
// connection. Reads and writes pass through unchanged.
type guardedConnection struct {
	connection.Connection
}

// Close implements Connection, suppressing the real close.
func (guardedConnection) Close() error { return nil }

// ChannelProvider is a single-use source of connections for one operation.
// It holds a non-owning handle back to the Session that created it (the
// weak back-reference from the design notes): a ChannelProvider may
// dispose its Session, but a Session never reaches back into a
// ChannelProvider.
type ChannelProvider struct {
	mu sync.Mutex

	session *Session
	node    description.Node
	cluster *cluster.Cluster
	sel     selector.NodeSelector // nil when the Session already re-checked eagerly; see GetChannel

	pinned *connection.Connection // nil unless the Session pinned a connection
	pool   *connection.Pool

	selfLeased            connection.Connection
	disposeSessionOnClose bool
	disposed              bool
}

func newChannelProvider(sess *Session, node description.Node, pool *connection.Pool, pinned connection.Connection, disposeSessionOnClose bool) *ChannelProvider {
	cp := &ChannelProvider{
		session:               sess,
		node:                  node,
		cluster:               sess.cluster,
		pool:                  pool,
		disposeSessionOnClose: disposeSessionOnClose,
	}
	if pinned != nil {
		cp.pinned = &pinned
	}
	return cp
}

// withSelector records the selector used to choose node, so GetChannel can
// re-verify the node hasn't drifted out of eligibility since selection. Only
// meaningful for a leased (non-pinned) ChannelProvider.
func (cp *ChannelProvider) withSelector(sel selector.NodeSelector) *ChannelProvider {
	cp.sel = sel
	return cp
}

// Server returns the NodeDescription this provider is bound to.
func (cp *ChannelProvider) Server() (description.Node, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.disposed {
		return description.Node{}, ErrDisposed
	}
	return cp.node, nil
}

// GetChannel returns a connection for the operation to drive the wire
// protocol through. If the Session pinned a connection, the pinned
// connection is returned wrapped in a disposal guard so the pool isn't
// released mid-session. Otherwise a fresh connection is leased from the
// node's pool and returned directly; the caller does not release it
// itself — ChannelProvider.Dispose does, since the ChannelProvider is the
// one that leased it.
func (cp *ChannelProvider) GetChannel(ctx context.Context) (connection.Connection, error) {
	cp.mu.Lock()
	if cp.disposed {
		cp.mu.Unlock()
		return nil, ErrDisposed
	}
	pinned := cp.pinned
	selfLeased := cp.selfLeased
	pool := cp.pool
	node := cp.node
	sel := cp.sel
	cl := cp.cluster
	cp.mu.Unlock()

	if pinned != nil {
		return guardedConnection{Connection: *pinned}, nil
	}

	if sel != nil && cl != nil {
		if current, ok := cl.Snapshot().Find(node.Address); ok {
			if err := sel.EnsureAcceptable(current); err != nil {
				return nil, ErrNodeSelectionLost
			}
		}
	}
	if selfLeased != nil {
		return selfLeased, nil
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	cp.mu.Lock()
	cp.selfLeased = conn
	cp.mu.Unlock()

	return conn, nil
}

// Dispose is idempotent. If disposeSessionOnClose was set, it disposes the
// Session; it releases the connection leased directly by GetChannel, if
// any, back to its pool. A connection pinned by the Session (rather than
// leased by this ChannelProvider) is never released here — the Session
// owns it.
func (cp *ChannelProvider) Dispose() {
	cp.mu.Lock()
	if cp.disposed {
		cp.mu.Unlock()
		return
	}
	cp.disposed = true
	disposeSession := cp.disposeSessionOnClose
	sess := cp.session
	selfLeased := cp.selfLeased
	pool := cp.pool
	cp.mu.Unlock()

	if selfLeased != nil {
		pool.Release(selfLeased)
	}
	if disposeSession && sess != nil {
		sess.Dispose()
	}
}
