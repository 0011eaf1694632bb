// Package session implements Session and ChannelProvider: the per-caller
// routing layer that turns a ReadPreference into a bound node and a leased
// or pinned Connection, according to one of the session pinning modes.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudresty/ulid"

	"github.com/mongodb-labs/session-core/cluster"
	"github.com/mongodb-labs/session-core/connection"
	"github.com/mongodb-labs/session-core/description"
	"github.com/mongodb-labs/session-core/internal/logger"
	"github.com/mongodb-labs/session-core/selector"
)

// Mode selects how a Session pins nodes and connections across the
// ChannelProviders it hands out.
type Mode int

const (
	// EventuallyConsistent selects a fresh node, by the caller's
	// ReadPreference, for every ChannelProvider. No pinning at all.
	EventuallyConsistent Mode = iota
	// Monotonic behaves like EventuallyConsistent until the first write,
	// at which point it pins to that write's node for the rest of the
	// Session's life so a caller never reads its own write from a
	// stale secondary.
	Monotonic
	// SingleChannel pins a node and Connection per read/write distinction,
	// merging the two pins into one Connection whenever the write node and
	// the read node coincide (the common case: a replica-set primary or a
	// mongos router serving both).
	SingleChannel
	// SingleNode pins a single node for the whole Session, selected once
	// up front, but leases a fresh Connection per ChannelProvider.
	SingleNode
	// DualNode keeps two independent pins: one for write operations
	// (Primary/Mongos) and one for read operations, each selected once
	// and reused for the Session's life.
	DualNode
)

func (m Mode) String() string {
	switch m {
	case Monotonic:
		return "Monotonic"
	case SingleChannel:
		return "SingleChannel"
	case SingleNode:
		return "SingleNode"
	case DualNode:
		return "DualNode"
	default:
		return "EventuallyConsistent"
	}
}

// Session is the caller-facing handle bound to one logical unit of work. It
// is not safe for concurrent CreateChannelProvider calls from multiple
// goroutines when Mode is anything but EventuallyConsistent: a Session
// models one caller's serial sequence of operations.
type Session struct {
	id      string
	cluster *cluster.Cluster
	mode    Mode
	log     *logger.Logger

	mu sync.Mutex

	// pinnedWrite/writeConn/writePool hold SingleChannel's and DualNode's
	// write-node pin; writeConn is only ever populated for SingleChannel,
	// which pins a Connection as well as a node.
	pinnedWrite *description.Node
	writeConn   connection.Connection
	writePool   *connection.Pool

	// pinnedQuery/queryConn/queryPool hold SingleChannel's independent
	// read-node pin, before it has been merged with the write pin.
	pinnedQuery *description.Node
	queryConn   connection.Connection
	queryPool   *connection.Pool

	// pinnedRead holds SingleNode's single pin (used for both reads and
	// writes) or DualNode's read-node pin. Neither mode pins a Connection.
	pinnedRead *description.Node

	// monotonicPin is set the first time a Monotonic Session observes a
	// write, and reused for every subsequent selection.
	monotonicPin *description.Node

	disposed bool
}

// New constructs a Session bound to cl, operating in mode. A ULID is
// generated for the Session's identity the way cloudresty-go-mongodb mints
// document IDs; it has no wire meaning here; it exists so logs and traces
// can correlate operations issued through the same Session.
func New(cl *cluster.Cluster, mode Mode) (*Session, error) {
	id, err := ulid.New()
	if err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}
	sess := &Session{id: id, cluster: cl, mode: mode, log: cl.Logger()}
	sess.log.Debug(logger.ComponentSession, "session created", "id", id, "mode", mode.String())
	return sess, nil
}

// ID returns the Session's ULID identity.
func (s *Session) ID() string {
	return s.id
}

// Mode returns the Session's pinning mode.
func (s *Session) Mode() Mode {
	return s.mode
}

// CreateChannelProvider selects a node and, depending on Mode, a connection
// for one operation. isWrite declares the caller's intent: the core has no
// notion of a write's payload, so write-pinning modes rely on the caller to
// say which operations are writes.
func (s *Session) CreateChannelProvider(ctx context.Context, rp description.ReadPreference, isWrite bool) (*ChannelProvider, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}
	mode := s.mode
	s.mu.Unlock()

	switch mode {
	case EventuallyConsistent:
		return s.eventuallyConsistentChannel(ctx, rp)
	case Monotonic:
		return s.monotonicChannel(ctx, rp, isWrite)
	case SingleChannel:
		return s.singleChannelChannel(ctx, rp, isWrite)
	case SingleNode:
		return s.singleNodeChannel(ctx, rp)
	case DualNode:
		return s.dualNodeChannel(ctx, rp, isWrite)
	default:
		return s.eventuallyConsistentChannel(ctx, rp)
	}
}

// ensurePinAcceptable re-validates a previously pinned node against the
// current topology snapshot, using the selector that would be applied to
// select it fresh. A pin that has drifted out of that selector's criteria
// since it was established is reported rather than silently reused, so a
// caller operating against a stale pin learns about a topology change (e.g.
// a failover) instead of being routed to a node that no longer qualifies.
func (s *Session) ensurePinAcceptable(node description.Node, sel selector.NodeSelector) error {
	current, ok := s.cluster.Snapshot().Find(node.Address)
	if !ok {
		return fmt.Errorf("session: %w", selector.ErrNodeNoLongerAcceptable)
	}
	if err := sel.EnsureAcceptable(current); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

func (s *Session) eventuallyConsistentChannel(ctx context.Context, rp description.ReadPreference) (*ChannelProvider, error) {
	sel := selector.ByReadPreference{ReadPreference: rp}
	node, err := s.cluster.SelectNode(ctx, sel)
	if err != nil {
		return nil, err
	}
	pool := s.cluster.PoolFor(node.Address)
	return newChannelProvider(s, node, pool, nil, false).withSelector(sel), nil
}

func (s *Session) monotonicChannel(ctx context.Context, rp description.ReadPreference, isWrite bool) (*ChannelProvider, error) {
	s.mu.Lock()
	pin := s.monotonicPin
	s.mu.Unlock()

	if pin != nil {
		node := *pin
		if err := s.ensurePinAcceptable(node, selector.PrimaryOrMongos{}); err != nil {
			return nil, err
		}
		pool := s.cluster.PoolFor(node.Address)
		return newChannelProvider(s, node, pool, nil, false), nil
	}

	var sel selector.NodeSelector
	if isWrite {
		sel = selector.PrimaryOrMongos{}
	} else {
		sel = selector.ByReadPreference{ReadPreference: rp}
	}

	node, err := s.cluster.SelectNode(ctx, sel)
	if err != nil {
		return nil, err
	}

	if isWrite {
		s.mu.Lock()
		if s.monotonicPin == nil {
			pinned := node
			s.monotonicPin = &pinned
		} else {
			node = *s.monotonicPin
		}
		s.mu.Unlock()
	}

	pool := s.cluster.PoolFor(node.Address)
	return newChannelProvider(s, node, pool, nil, false).withSelector(sel), nil
}

// singleChannelChannel dispatches to the write-pin or query-pin path. The
// two pins merge into a single Connection whenever the write node and the
// selected read node coincide, so a SingleChannel Session ends up holding
// at most two distinct Connections, and exactly one whenever reads resolve
// to the same write-capable node.
func (s *Session) singleChannelChannel(ctx context.Context, rp description.ReadPreference, isWrite bool) (*ChannelProvider, error) {
	if isWrite {
		return s.singleChannelWrite(ctx)
	}
	return s.singleChannelRead(ctx, rp)
}

func (s *Session) singleChannelWrite(ctx context.Context) (*ChannelProvider, error) {
	s.mu.Lock()
	if s.pinnedWrite != nil {
		node, conn := *s.pinnedWrite, s.writeConn
		s.mu.Unlock()
		if err := s.ensurePinAcceptable(node, selector.PrimaryOrMongos{}); err != nil {
			return nil, err
		}
		return newChannelProvider(s, node, nil, conn, false), nil
	}
	s.mu.Unlock()

	node, err := s.cluster.SelectNode(ctx, selector.PrimaryOrMongos{})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.pinnedWrite != nil {
		existingNode, existingConn := *s.pinnedWrite, s.writeConn
		s.mu.Unlock()
		return newChannelProvider(s, existingNode, nil, existingConn, false), nil
	}

	// A query connection already pinned to a write-capable node serves as
	// the write connection too, instead of opening a second one.
	if s.pinnedQuery != nil && selector.IsPrimaryLike(*s.pinnedQuery) {
		conn := s.queryConn
		pinned := *s.pinnedQuery
		s.pinnedWrite = &pinned
		s.writeConn = conn
		s.writePool = s.queryPool
		s.mu.Unlock()
		return newChannelProvider(s, pinned, nil, conn, false), nil
	}
	s.mu.Unlock()

	pool := s.cluster.PoolFor(node.Address)
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.pinnedWrite != nil {
		// Lost the race; discard the extra connection and reuse the
		// winner's pin so every caller converges on one Connection.
		existingNode, existingConn := *s.pinnedWrite, s.writeConn
		s.mu.Unlock()
		pool.Release(conn)
		return newChannelProvider(s, existingNode, nil, existingConn, false), nil
	}
	pinned := node
	s.pinnedWrite = &pinned
	s.writeConn = conn
	s.writePool = pool
	s.mu.Unlock()

	return newChannelProvider(s, node, nil, conn, false), nil
}

func (s *Session) singleChannelRead(ctx context.Context, rp description.ReadPreference) (*ChannelProvider, error) {
	sel := selector.ByReadPreference{ReadPreference: rp}

	s.mu.Lock()
	if s.pinnedQuery != nil {
		// The current pinned query node is still what the caller asked
		// for; don't switch even if it happens to be write-capable
		// (e.g. a mongos presenting a primary-like face).
		node, conn := *s.pinnedQuery, s.queryConn
		s.mu.Unlock()
		if err := s.ensurePinAcceptable(node, sel); err != nil {
			return nil, err
		}
		return newChannelProvider(s, node, nil, conn, false), nil
	}
	s.mu.Unlock()

	node, err := s.cluster.SelectNode(ctx, sel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.pinnedQuery != nil {
		existingNode, existingConn := *s.pinnedQuery, s.queryConn
		s.mu.Unlock()
		return newChannelProvider(s, existingNode, nil, existingConn, false), nil
	}

	// The selected read node is the pinned write node; reuse its
	// connection instead of opening a second one.
	if s.pinnedWrite != nil && s.pinnedWrite.Address == node.Address {
		conn := s.writeConn
		pinned := node
		s.pinnedQuery = &pinned
		s.queryConn = conn
		s.queryPool = s.writePool
		s.mu.Unlock()
		return newChannelProvider(s, node, nil, conn, false), nil
	}
	s.mu.Unlock()

	pool := s.cluster.PoolFor(node.Address)
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.pinnedQuery != nil {
		existingNode, existingConn := *s.pinnedQuery, s.queryConn
		s.mu.Unlock()
		pool.Release(conn)
		return newChannelProvider(s, existingNode, nil, existingConn, false), nil
	}
	pinned := node
	s.pinnedQuery = &pinned
	s.queryConn = conn
	s.queryPool = pool
	s.mu.Unlock()

	return newChannelProvider(s, node, nil, conn, false), nil
}

func (s *Session) singleNodeChannel(ctx context.Context, rp description.ReadPreference) (*ChannelProvider, error) {
	sel := selector.ByReadPreference{ReadPreference: rp}

	s.mu.Lock()
	pin := s.pinnedRead
	s.mu.Unlock()

	if pin != nil {
		node := *pin
		if err := s.ensurePinAcceptable(node, sel); err != nil {
			return nil, err
		}
		pool := s.cluster.PoolFor(node.Address)
		return newChannelProvider(s, node, pool, nil, false), nil
	}

	node, err := s.cluster.SelectNode(ctx, sel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.pinnedRead == nil {
		pinned := node
		s.pinnedRead = &pinned
	} else {
		node = *s.pinnedRead
	}
	s.mu.Unlock()

	pool := s.cluster.PoolFor(node.Address)
	return newChannelProvider(s, node, pool, nil, false), nil
}

func (s *Session) dualNodeChannel(ctx context.Context, rp description.ReadPreference, isWrite bool) (*ChannelProvider, error) {
	if isWrite {
		s.mu.Lock()
		pin := s.pinnedWrite
		s.mu.Unlock()
		if pin != nil {
			node := *pin
			if err := s.ensurePinAcceptable(node, selector.PrimaryOrMongos{}); err != nil {
				return nil, err
			}
			pool := s.cluster.PoolFor(node.Address)
			return newChannelProvider(s, node, pool, nil, false), nil
		}

		node, err := s.cluster.SelectNode(ctx, selector.PrimaryOrMongos{})
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.pinnedWrite == nil {
			pinned := node
			s.pinnedWrite = &pinned
		} else {
			node = *s.pinnedWrite
		}
		s.mu.Unlock()
		pool := s.cluster.PoolFor(node.Address)
		return newChannelProvider(s, node, pool, nil, false), nil
	}

	sel := selector.ByReadPreference{ReadPreference: rp}

	s.mu.Lock()
	pin := s.pinnedRead
	s.mu.Unlock()
	if pin != nil {
		node := *pin
		if err := s.ensurePinAcceptable(node, sel); err != nil {
			return nil, err
		}
		pool := s.cluster.PoolFor(node.Address)
		return newChannelProvider(s, node, pool, nil, false), nil
	}

	node, err := s.cluster.SelectNode(ctx, sel)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.pinnedRead == nil {
		pinned := node
		s.pinnedRead = &pinned
	} else {
		node = *s.pinnedRead
	}
	s.mu.Unlock()
	pool := s.cluster.PoolFor(node.Address)
	return newChannelProvider(s, node, pool, nil, false), nil
}

// Dispose releases every connection this Session pinned directly (the
// SingleChannel query and write connections) and clears its pins.
// ChannelProviders returned by leased (non-pinned) modes manage their own
// disposal and do not need this Session to release anything on their
// behalf. Dispose is idempotent.
//
// Query connection releases before write connection, skipping the query
// release when SingleChannel's merge rules already made the two identical.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.log.Debug(logger.ComponentSession, "session disposed", "id", s.id)
	queryConn, queryPool := s.queryConn, s.queryPool
	writeConn, writePool := s.writeConn, s.writePool
	s.queryConn, s.queryPool = nil, nil
	s.writeConn, s.writePool = nil, nil
	s.pinnedWrite = nil
	s.pinnedQuery = nil
	s.pinnedRead = nil
	s.monotonicPin = nil
	s.mu.Unlock()

	if queryConn != nil && queryConn != writeConn {
		queryPool.Release(queryConn)
	}
	if writeConn != nil {
		writePool.Release(writeConn)
	}
}
