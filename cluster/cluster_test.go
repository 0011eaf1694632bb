package cluster_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "github.com/mongodb-labs/session-core/cluster"
	"github.com/mongodb-labs/session-core/config"
	"github.com/mongodb-labs/session-core/description"
	"github.com/mongodb-labs/session-core/internal/logger"
	"github.com/mongodb-labs/session-core/selector"
)

func staticHello(roles map[string]description.Role) HelloFunc {
	return func(ctx context.Context, address string) (description.Node, error) {
		return description.Node{Address: address, Role: roles[address]}, nil
	}
}

func TestCluster_DirectConnectSelectsStandalone(t *testing.T) {
	t.Parallel()

	cfg := config.New(
		config.WithSeeds("a:27017"),
		config.WithHeartbeatInterval(20*time.Millisecond, 5*time.Millisecond),
		config.WithServerSelectionTimeout(time.Second),
	)
	c := New(cfg, staticHello(map[string]description.Role{"a:27017": description.RoleStandalone}))
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), description.Primary()))

	node, err := c.SelectNode(context.Background(), selector.ByReadPreference{ReadPreference: description.Primary()})
	require.NoError(t, err)
	require.Equal(t, "a:27017", node.Address)
}

func TestCluster_SelectNodeTimesOutWhenNoMatch(t *testing.T) {
	t.Parallel()

	cfg := config.New(
		config.WithSeeds("a:27017"),
		config.WithReplicaSetName("rs0"),
		config.WithHeartbeatInterval(20*time.Millisecond, 5*time.Millisecond),
	)
	c := New(cfg, staticHello(map[string]description.Role{"a:27017": description.RoleSecondary}))
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), description.SecondaryPreferred()))

	rp := description.ReadPreference{Mode: description.ModeSecondary, TagSets: []description.TagSet{{"dc": "east"}}}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.SelectNode(ctx, selector.ByReadPreference{ReadPreference: rp})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrNoNodeSelected)
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.Less(t, elapsed, 200*time.Millisecond)
}

func TestCluster_FailoverMovesPrimary(t *testing.T) {
	t.Parallel()

	var primaryIsP2 atomic.Bool

	hello := func(ctx context.Context, address string) (description.Node, error) {
		role := description.RoleSecondary
		switch {
		case address == "p1:27017" && !primaryIsP2.Load():
			role = description.RolePrimary
		case address == "p2:27017" && primaryIsP2.Load():
			role = description.RolePrimary
		}
		return description.Node{Address: address, Role: role}, nil
	}

	cfg := config.New(
		config.WithSeeds("p1:27017", "p2:27017"),
		config.WithReplicaSetName("rs0"),
		config.WithHeartbeatInterval(10*time.Millisecond, 5*time.Millisecond),
		config.WithServerSelectionTimeout(time.Second),
	)
	c := New(cfg, hello)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), description.Primary()))

	node, err := c.SelectNode(context.Background(), selector.Primary{})
	require.NoError(t, err)
	require.Equal(t, "p1:27017", node.Address)

	primaryIsP2.Store(true)
	require.NoError(t, c.VerifyState(context.Background()))

	require.Eventually(t, func() bool {
		n, err := c.SelectNode(context.Background(), selector.Primary{})
		return err == nil && n.Address == "p2:27017"
	}, time.Second, 5*time.Millisecond)
}

func TestCluster_LogLevelFromConfigGatesComponents(t *testing.T) {
	t.Parallel()

	cfg := config.New(config.WithSeeds("a:27017"), config.WithLogLevel(logger.LevelDebug))
	c := New(cfg, staticHello(map[string]description.Role{"a:27017": description.RoleStandalone}))
	defer c.Disconnect()

	require.True(t, c.Logger().Is(logger.ComponentCluster, logger.LevelDebug))
	require.True(t, c.Logger().Is(logger.ComponentConnection, logger.LevelDebug))
	require.True(t, c.Logger().Is(logger.ComponentSession, logger.LevelDebug))

	offCfg := config.New(config.WithSeeds("a:27017"))
	offCluster := New(offCfg, staticHello(map[string]description.Role{"a:27017": description.RoleStandalone}))
	defer offCluster.Disconnect()
	require.False(t, offCluster.Logger().Is(logger.ComponentCluster, logger.LevelDebug))
}

func TestCluster_DisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := config.New(config.WithSeeds("a:27017"))
	c := New(cfg, staticHello(map[string]description.Role{"a:27017": description.RoleStandalone}))

	c.Disconnect()
	c.Disconnect()

	_, err := c.SelectNode(context.Background(), selector.Primary{})
	require.ErrorIs(t, err, ErrNotConnected)
}
