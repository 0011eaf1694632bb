// Package cluster tracks deployment topology: it discovers nodes,
// classifies them into NodeDescriptions, publishes ClusterDescription
// snapshots, and exposes SelectNode for the session/selector layers above
// it.
package cluster

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/mongodb-labs/session-core/config"
	"github.com/mongodb-labs/session-core/connection"
	"github.com/mongodb-labs/session-core/description"
	"github.com/mongodb-labs/session-core/internal/csot"
	"github.com/mongodb-labs/session-core/internal/logger"
	"github.com/mongodb-labs/session-core/selector"
)

type state int32

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
)

// Cluster is the topology tracker. It is safe for concurrent use by any
// number of callers.
type Cluster struct {
	cfg   config.Config
	hello HelloFunc
	log   *logger.Logger

	state atomic.Int32
	desc  atomic.Value // description.Cluster

	mu       sync.Mutex
	monitors map[string]*nodeMonitor
	pools    map[string]*connection.Pool

	waiterLock   sync.Mutex
	waiters      map[int64]chan struct{}
	lastWaiterID int64
}

// New constructs a Cluster in the Disconnected state. hello is the
// pluggable heartbeat probe; it stands in for "isMaster"/"hello" since wire
// I/O is out of scope for this core.
func New(cfg config.Config, hello HelloFunc) *Cluster {
	levels := map[logger.Component]logger.Level{
		logger.ComponentCluster:    cfg.LogLevel,
		logger.ComponentConnection: cfg.LogLevel,
		logger.ComponentSession:    cfg.LogLevel,
	}
	c := &Cluster{
		cfg:      cfg,
		hello:    hello,
		log:      logger.New(logr.Discard(), levels),
		monitors: make(map[string]*nodeMonitor),
		pools:    make(map[string]*connection.Pool),
		waiters:  make(map[int64]chan struct{}),
	}
	c.desc.Store(initialDescription(cfg))
	return c
}

// WithLogger attaches a logger to the Cluster; intended to be called
// immediately after New.
func (c *Cluster) WithLogger(log *logger.Logger) *Cluster {
	c.log = log
	return c
}

func initialDescription(cfg config.Config) description.Cluster {
	kind := description.KindUnknown
	if len(cfg.Seeds) == 1 && cfg.ReplicaSetName == "" {
		kind = description.KindDirect
	}
	nodes := make([]description.Node, 0, len(cfg.Seeds))
	for _, addr := range cfg.Seeds {
		node := description.Node{Address: addr, Liveness: description.LivenessDisconnected}
		if kind == description.KindDirect {
			// A lone seed has no peer to compare latency against; report
			// zero RTT rather than an uninitialized duration.
			node.AverageRTT = csot.ZeroRTTMonitor{}.EWMA()
		}
		nodes = append(nodes, node)
	}
	return description.Cluster{Kind: kind, SetName: cfg.ReplicaSetName, Nodes: nodes}
}

// PoolFor returns the ConnectionPool for address, creating it on first use.
func (c *Cluster) PoolFor(address string) *connection.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pools[address]; ok {
		return p
	}
	p := connection.NewPool(connection.PoolConfig{
		Address:   address,
		MaxInUse:  c.cfg.MaxPoolSize,
		Dialer:    c.cfg.Dialer,
		TLSConfig: c.cfg.TLSConfig,
		Log:       c.log,
	})
	c.pools[address] = p
	return p
}

// Logger returns the Cluster's configured Logger, so collaborating packages
// (session) can log under the same sink and component-level configuration.
func (c *Cluster) Logger() *logger.Logger {
	return c.log
}

// Snapshot returns the current ClusterDescription. Concurrent readers
// always observe a consistent, previously-published snapshot.
func (c *Cluster) Snapshot() description.Cluster {
	return c.desc.Load().(description.Cluster)
}

// Connect transitions Disconnected -> Connecting, starts per-node
// monitors, and blocks until some node satisfies initialReadPreference or
// ctx is done. Connect is idempotent if already Connected.
func (c *Cluster) Connect(ctx context.Context, initialReadPreference description.ReadPreference) error {
	if state(c.state.Load()) == stateConnected {
		return nil
	}
	if !c.state.CompareAndSwap(int32(stateDisconnected), int32(stateConnecting)) {
		// Another goroutine is already connecting; fall through to
		// waiting on selection below.
	}

	c.mu.Lock()
	for _, addr := range c.cfg.Seeds {
		if _, ok := c.monitors[addr]; ok {
			continue
		}
		m := newNodeMonitor(addr, c.hello, monitorConfig{
			interval:               c.cfg.HeartbeatInterval,
			minInterval:            c.cfg.MinHeartbeatInterval,
			socketTimeout:          c.cfg.SocketTimeout,
			maxConsecutiveFailures: c.cfg.MaxConsecutiveFailures,
			log:                    c.log,
		}, c.applyUpdate)
		c.monitors[addr] = m
		m.start()
	}
	c.mu.Unlock()

	sel := selector.ByReadPreference{ReadPreference: initialReadPreference}
	_, err := c.SelectNode(ctx, sel)
	if err != nil {
		return err
	}

	c.state.Store(int32(stateConnected))
	return nil
}

// Disconnect stops every monitor, closes the topology, and returns to
// Disconnected. Idempotent.
func (c *Cluster) Disconnect() {
	if state(c.state.Swap(int32(stateDisconnected))) == stateDisconnected {
		return
	}

	c.mu.Lock()
	monitors := c.monitors
	c.monitors = make(map[string]*nodeMonitor)
	pools := c.pools
	c.pools = make(map[string]*connection.Pool)
	c.mu.Unlock()

	for _, m := range monitors {
		m.stopAndWait()
	}
	for _, p := range pools {
		p.Close()
	}

	c.waiterLock.Lock()
	for id, ch := range c.waiters {
		close(ch)
		delete(c.waiters, id)
	}
	c.waiterLock.Unlock()
}

// VerifyState asks the monitor of every known node to heartbeat right away.
// It does not wait for those heartbeats: it returns once the requests are
// made, and each monitor publishes its new snapshot when its heartbeat
// completes.
func (c *Cluster) VerifyState(ctx context.Context) error {
	c.mu.Lock()
	monitors := make([]*nodeMonitor, 0, len(c.monitors))
	for _, m := range c.monitors {
		monitors = append(monitors, m)
	}
	c.mu.Unlock()

	for _, m := range monitors {
		m.requestImmediateCheck()
	}
	return ctx.Err()
}

// SelectNode repeatedly reads the current snapshot; if sel.SelectNode
// matches, the node is returned. Otherwise SelectNode waits for the next
// snapshot update or for ctx to finish.
//
// If the snapshot Kind is Unknown and the caller wants a Primary, SelectNode
// waits rather than falling back to any node.
func (c *Cluster) SelectNode(ctx context.Context, sel selector.NodeSelector) (description.Node, error) {
	ctx, cancel := csot.WithSelectionTimeout(ctx, c.cfg.ServerSelectionTimeout)
	defer cancel()

	for {
		if state(c.state.Load()) == stateDisconnected {
			return description.Node{}, ErrNotConnected
		}

		snapshot := c.Snapshot()

		if node, ok := sel.SelectNode(snapshot); ok {
			return node, nil
		}

		updated, id := c.awaitUpdate()
		select {
		case <-ctx.Done():
			c.removeWaiter(id)
			if ctx.Err() == context.DeadlineExceeded {
				return description.Node{}, ErrNoNodeSelected
			}
			return description.Node{}, ErrCancelled
		case <-updated:
		}
	}
}

func (c *Cluster) applyUpdate(node description.Node) {
	current := c.Snapshot()
	next := current.WithNode(node)
	next.Kind = classify(next, c.cfg)
	c.desc.Store(next)

	c.waiterLock.Lock()
	for _, ch := range c.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	c.waiterLock.Unlock()
}

func classify(snapshot description.Cluster, cfg config.Config) description.Kind {
	if len(cfg.Seeds) == 1 && cfg.ReplicaSetName == "" {
		return description.KindDirect
	}
	for _, n := range snapshot.Nodes {
		switch n.Role {
		case description.RoleMongos:
			return description.KindSharded
		case description.RolePrimary, description.RoleSecondary, description.RoleArbiter, description.RolePassive:
			return description.KindReplicaSet
		}
	}
	return description.KindUnknown
}

func (c *Cluster) awaitUpdate() (<-chan struct{}, int64) {
	id := atomic.AddInt64(&c.lastWaiterID, 1)
	ch := make(chan struct{}, 1)
	c.waiterLock.Lock()
	c.waiters[id] = ch
	c.waiterLock.Unlock()
	return ch, id
}

func (c *Cluster) removeWaiter(id int64) {
	c.waiterLock.Lock()
	delete(c.waiters, id)
	c.waiterLock.Unlock()
}
