package connection

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mongodb-labs/session-core/internal/logger"
)

// PoolConfig configures a Pool's bounds and dial behaviour. Log is optional;
// a nil Log silently disables pool-level logging.
type PoolConfig struct {
	Address   string
	MaxInUse  int64
	Dialer    Dialer
	TLSConfig *tls.Config
	Log       *logger.Logger
}

// Pool is a per-node pool of live Connections, bounded by MaxInUse. Pool is
// safe for concurrent use by any number of callers.
//
// Invariants: in-use + idle <= MaxInUse; every Connection handed out by
// Acquire is either in-use or discarded, never both in-use and idle.
type Pool struct {
	cfg *PoolConfig
	sem *semaphore.Weighted

	mu          sync.Mutex
	idle        []Connection
	outstanding map[string]struct{}
	closed      bool
}

// NewPool constructs a Pool for one node. A non-positive MaxInUse is
// replaced with 100.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxInUse <= 0 {
		cfg.MaxInUse = 100
	}
	return &Pool{
		cfg:         &cfg,
		sem:         semaphore.NewWeighted(cfg.MaxInUse),
		outstanding: make(map[string]struct{}),
	}
}

// Acquire returns a ready-to-use Connection: reused from the idle set if one
// is healthy, otherwise freshly dialed. It blocks, subject to ctx, until a
// slot under MaxInUse is available.
func (p *Pool) Acquire(ctx context.Context) (Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrCancelled
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	var conn Connection
	for len(p.idle) > 0 {
		candidate := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if candidate.Alive() {
			conn = candidate
			break
		}
		_ = candidate.Close()
	}
	p.mu.Unlock()

	if conn == nil {
		dialed, err := Dial(ctx, p.cfg.Dialer, p.cfg.Address, p.cfg.TLSConfig)
		if err != nil {
			p.sem.Release(1)
			p.cfg.Log.Debug(logger.ComponentConnection, "dial failed", "address", p.cfg.Address, "error", err)
			return nil, ErrConnectFailed
		}
		conn = dialed
		p.cfg.Log.Debug(logger.ComponentConnection, "dialed new connection", "address", p.cfg.Address, "id", conn.ID())
	} else {
		p.cfg.Log.Debug(logger.ComponentConnection, "reused idle connection", "address", p.cfg.Address, "id", conn.ID())
	}

	p.mu.Lock()
	p.outstanding[conn.ID()] = struct{}{}
	p.mu.Unlock()

	return conn, nil
}

// Release returns conn to the idle set after a cheap liveness check,
// discarding it if unhealthy. Releasing a connection that was already
// released, or that did not come from this pool, is a silent no-op.
func (p *Pool) Release(conn Connection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.outstanding[conn.ID()]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.outstanding, conn.ID())
	closed := p.closed
	if !closed && conn.Alive() {
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
		p.cfg.Log.Debug(logger.ComponentConnection, "released to idle", "address", p.cfg.Address, "id", conn.ID())
	} else {
		p.mu.Unlock()
		_ = conn.Close()
		p.cfg.Log.Debug(logger.ComponentConnection, "discarded on release", "address", p.cfg.Address, "id", conn.ID())
	}
	p.sem.Release(1)
}

// Close refuses further Acquires and closes every idle Connection.
// In-use connections close on their next Release. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		_ = conn.Close()
	}
}

// Stats reports the current idle and in-use counts, for tests and metrics.
func (p *Pool) Stats() (idle, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), len(p.outstanding)
}
