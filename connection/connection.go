// Package connection implements the per-node pool of live wire-protocol
// connections: leasing, releasing, health checks, and the hard bound on
// concurrent in-use connections.
package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
)

var globalConnectionID uint64

func nextConnectionID() uint64 {
	return atomic.AddUint64(&globalConnectionID, 1)
}

// Connection is a wire-protocol channel to one node. The wire-message
// framing itself is out of scope for this core; Connection exposes only
// what the pool and the session layer need to own, lease, and release it.
type Connection interface {
	// ID uniquely identifies the connection for logging and diagnostics.
	ID() string
	// Address is the node this connection is attached to.
	Address() string
	// Alive reports whether the connection's socket is still usable.
	Alive() bool
	// WriteMessage and ReadMessage hand raw wire-protocol bytes to/from the
	// network. Framing and codec concerns live above this core.
	WriteMessage(ctx context.Context, msg []byte) error
	ReadMessage(ctx context.Context) ([]byte, error)
	// Close releases the underlying socket. It is idempotent.
	Close() error
}

// Dialer opens network connections. Tests substitute an in-memory Dialer;
// production code uses DefaultDialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DialContext implements Dialer.
func (f DialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// DefaultDialer is used when a Pool is not configured with one.
var DefaultDialer Dialer = &net.Dialer{}

type tcpConnection struct {
	id      string
	addr    string
	conn    net.Conn
	dead    atomic.Bool
	closed  atomic.Bool
	readBuf []byte
	sizeBuf [4]byte
}

// Dial opens a new Connection to addr. If tlsConfig is non-nil, the socket
// is upgraded to TLS before being returned.
func Dial(ctx context.Context, dialer Dialer, addr string, tlsConfig *tls.Config) (Connection, error) {
	if dialer == nil {
		dialer = DefaultDialer
	}

	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connection: dial %s: %w", addr, err)
	}

	if tlsConfig != nil {
		nc, err = upgradeTLS(ctx, nc, addr, tlsConfig)
		if err != nil {
			return nil, err
		}
	}

	c := &tcpConnection{
		id:      fmt.Sprintf("%s[-%d]", addr, nextConnectionID()),
		addr:    addr,
		conn:    nc,
		readBuf: make([]byte, 0, 256),
	}
	return c, nil
}

func upgradeTLS(ctx context.Context, nc net.Conn, addr string, cfg *tls.Config) (net.Conn, error) {
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		host := addr
		if i := strings.LastIndex(addr, ":"); i != -1 {
			host = addr[:i]
		}
		cfg.ServerName = host
	}

	client := tls.Client(nc, cfg)
	done := make(chan error, 1)
	go func() { done <- client.Handshake() }()

	select {
	case err := <-done:
		if err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("connection: tls handshake with %s: %w", addr, err)
		}
		return client, nil
	case <-ctx.Done():
		_ = nc.Close()
		return nil, ctx.Err()
	}
}

func (c *tcpConnection) ID() string      { return c.id }
func (c *tcpConnection) Address() string { return c.addr }
func (c *tcpConnection) Alive() bool     { return !c.dead.Load() }

func (c *tcpConnection) WriteMessage(ctx context.Context, msg []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	if _, err := c.conn.Write(msg); err != nil {
		c.dead.Store(true)
		return fmt.Errorf("connection: write to %s: %w", c.addr, err)
	}
	return nil
}

func (c *tcpConnection) ReadMessage(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	if _, err := c.conn.Read(c.sizeBuf[:]); err != nil {
		c.dead.Store(true)
		return nil, fmt.Errorf("connection: read from %s: %w", c.addr, err)
	}
	size := int(c.sizeBuf[0]) | int(c.sizeBuf[1])<<8 | int(c.sizeBuf[2])<<16 | int(c.sizeBuf[3])<<24
	if cap(c.readBuf) < size {
		c.readBuf = make([]byte, size)
	}
	buf := c.readBuf[:size]
	copy(buf, c.sizeBuf[:])
	if size > 4 {
		if _, err := net.Conn(c.conn).Read(buf[4:]); err != nil {
			c.dead.Store(true)
			return nil, fmt.Errorf("connection: read from %s: %w", c.addr, err)
		}
	}
	return buf, nil
}

func (c *tcpConnection) Close() error {
	c.dead.Store(true)
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
