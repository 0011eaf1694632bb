package connection_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "github.com/mongodb-labs/session-core/connection"
)

func testDialer(t *testing.T) Dialer {
	t.Helper()
	return DialerFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		server, client := net.Pipe()
		t.Cleanup(func() { _ = server.Close() })
		return client, nil
	})
}

func TestPool_AcquireReleaseReuse(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolConfig{Address: "a:27017", MaxInUse: 2, Dialer: testDialer(t)})
	t.Cleanup(p.Close)

	ctx := context.Background()
	conn, err := p.Acquire(ctx)
	require.NoError(t, err)
	idle, inUse := p.Stats()
	require.Equal(t, 0, idle)
	require.Equal(t, 1, inUse)

	p.Release(conn)
	idle, inUse = p.Stats()
	require.Equal(t, 1, idle)
	require.Equal(t, 0, inUse)

	// Release of an already-released connection is a silent no-op.
	p.Release(conn)
	idle, inUse = p.Stats()
	require.Equal(t, 1, idle)
	require.Equal(t, 0, inUse)
}

func TestPool_MaxInUseBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolConfig{Address: "a:27017", MaxInUse: 1, Dialer: testDialer(t)})
	t.Cleanup(p.Close)

	ctx := context.Background()
	first, err := p.Acquire(ctx)
	require.NoError(t, err)

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(timeoutCtx)
	require.ErrorIs(t, err, ErrTimeout)

	p.Release(first)
	released, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, released)
}

func TestPool_AcquireCancelled(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolConfig{Address: "a:27017", MaxInUse: 1, Dialer: testDialer(t)})
	t.Cleanup(p.Close)

	ctx := context.Background()
	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Acquire(cancelled)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestPool_CloseIsIdempotentAndClosesIdle(t *testing.T) {
	t.Parallel()

	p := NewPool(PoolConfig{Address: "a:27017", MaxInUse: 2, Dialer: testDialer(t)})

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(conn)

	p.Close()
	p.Close() // idempotent

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}
