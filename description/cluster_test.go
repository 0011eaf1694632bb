package description_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	. "github.com/mongodb-labs/session-core/description"
)

func TestCluster_Validate(t *testing.T) {
	t.Parallel()

	t.Run("rejects two primaries", func(t *testing.T) {
		c := Cluster{
			Kind: KindReplicaSet,
			Nodes: []Node{
				{Address: "a:27017", Role: RolePrimary},
				{Address: "b:27017", Role: RolePrimary},
			},
		}
		require.Error(t, c.Validate())
	})

	t.Run("rejects duplicate address", func(t *testing.T) {
		c := Cluster{
			Nodes: []Node{
				{Address: "a:27017", Role: RolePrimary},
				{Address: "a:27017", Role: RoleSecondary},
			},
		}
		require.Error(t, c.Validate())
	})

	t.Run("direct cluster must have exactly one node", func(t *testing.T) {
		c := Cluster{
			Kind: KindDirect,
			Nodes: []Node{
				{Address: "a:27017", Role: RoleStandalone},
				{Address: "b:27017", Role: RoleStandalone},
			},
		}
		require.Error(t, c.Validate())
	})

	t.Run("accepts a well formed replica set", func(t *testing.T) {
		c := Cluster{
			Kind: KindReplicaSet,
			Nodes: []Node{
				{Address: "a:27017", Role: RolePrimary},
				{Address: "b:27017", Role: RoleSecondary},
			},
		}
		require.NoError(t, c.Validate())
	})
}

func TestCluster_WithNode(t *testing.T) {
	t.Parallel()

	c := Cluster{Nodes: []Node{{Address: "a:27017", Role: RoleSecondary}}}
	updated := c.WithNode(Node{Address: "a:27017", Role: RolePrimary})

	if diff := cmp.Diff(RolePrimary, updated.Nodes[0].Role); diff != "" {
		t.Fatalf("unexpected role (-want +got):\n%s", diff)
	}
	require.Equal(t, RoleSecondary, c.Nodes[0].Role, "original snapshot must not mutate")
	require.Greater(t, updated.Version, c.Version)

	appended := c.WithNode(Node{Address: "b:27017", Role: RoleSecondary})
	require.Len(t, appended.Nodes, 2)
}

func TestCluster_Primary(t *testing.T) {
	t.Parallel()

	c := Cluster{Nodes: []Node{
		{Address: "a:27017", Role: RolePrimary, Liveness: LivenessConnectionFailed},
		{Address: "b:27017", Role: RoleSecondary, Liveness: LivenessConnected},
	}}
	_, ok := c.Primary()
	require.False(t, ok, "a disconnected primary must not be returned")

	c2 := c.WithNode(Node{Address: "a:27017", Role: RolePrimary, Liveness: LivenessConnected})
	p, ok := c2.Primary()
	require.True(t, ok)
	require.Equal(t, "a:27017", p.Address)
}
