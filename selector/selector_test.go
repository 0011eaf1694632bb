package selector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mongodb-labs/session-core/description"
	. "github.com/mongodb-labs/session-core/selector"
)

func connected(addr string, role description.Role) description.Node {
	return description.Node{Address: addr, Role: role, Liveness: description.LivenessConnected}
}

func TestPrimary_SelectNode(t *testing.T) {
	t.Parallel()

	snapshot := description.Cluster{Nodes: []description.Node{
		connected("p:1", description.RolePrimary),
		connected("s:1", description.RoleSecondary),
	}}

	node, ok := Primary{}.SelectNode(snapshot)
	require.True(t, ok)
	require.Equal(t, "p:1", node.Address)

	require.NoError(t, Primary{}.EnsureAcceptable(node))
	require.ErrorIs(t, Primary{}.EnsureAcceptable(snapshot.Nodes[1]), ErrNodeNoLongerAcceptable)
}

func TestByReadPreference_SecondaryPreferredFallsBackToPrimary(t *testing.T) {
	t.Parallel()

	snapshot := description.Cluster{Nodes: []description.Node{
		connected("p:1", description.RolePrimary),
	}}

	sel := ByReadPreference{ReadPreference: description.SecondaryPreferred()}
	node, ok := sel.SelectNode(snapshot)
	require.True(t, ok)
	require.Equal(t, "p:1", node.Address)
}

func TestByReadPreference_SecondaryExcludesArbiters(t *testing.T) {
	t.Parallel()

	snapshot := description.Cluster{Nodes: []description.Node{
		connected("p:1", description.RolePrimary),
		connected("arb:1", description.RoleArbiter),
		connected("s:1", description.RoleSecondary),
	}}

	sel := ByReadPreference{ReadPreference: description.ReadPreference{Mode: description.ModeSecondary}}
	node, ok := sel.SelectNode(snapshot)
	require.True(t, ok)
	require.Equal(t, "s:1", node.Address)
}

func TestByReadPreference_NearestPicksLowestRTT(t *testing.T) {
	t.Parallel()

	near := connected("near:1", description.RoleSecondary)
	near.AverageRTT = 5 * time.Millisecond
	far := connected("far:1", description.RoleSecondary)
	far.AverageRTT = 50 * time.Millisecond

	snapshot := description.Cluster{Nodes: []description.Node{far, near}}
	sel := ByReadPreference{ReadPreference: description.ReadPreference{Mode: description.ModeNearest}}
	node, ok := sel.SelectNode(snapshot)
	require.True(t, ok)
	require.Equal(t, "near:1", node.Address)
}

func TestByReadPreference_TieBreaksByAddress(t *testing.T) {
	t.Parallel()

	a := connected("a:1", description.RoleSecondary)
	b := connected("b:1", description.RoleSecondary)

	snapshot := description.Cluster{Nodes: []description.Node{b, a}}
	sel := ByReadPreference{ReadPreference: description.ReadPreference{Mode: description.ModeSecondary}}
	node, ok := sel.SelectNode(snapshot)
	require.True(t, ok)
	require.Equal(t, "a:1", node.Address)
}

func TestByReadPreference_EnsureAcceptableDetectsDrift(t *testing.T) {
	t.Parallel()

	sel := ByReadPreference{ReadPreference: description.ReadPreference{Mode: description.ModeSecondary}}
	secondary := connected("s:1", description.RoleSecondary)
	require.NoError(t, sel.EnsureAcceptable(secondary))

	demoted := secondary
	demoted.Liveness = description.LivenessConnectionFailed
	require.ErrorIs(t, sel.EnsureAcceptable(demoted), ErrNodeNoLongerAcceptable)
}

func TestPrimaryOrMongos_FallsBackToMongosWhenNoPrimary(t *testing.T) {
	t.Parallel()

	snapshot := description.Cluster{Nodes: []description.Node{
		connected("m1:1", description.RoleMongos),
		connected("m2:1", description.RoleMongos),
	}}

	node, ok := PrimaryOrMongos{}.SelectNode(snapshot)
	require.True(t, ok)
	require.True(t, IsPrimaryLike(node))
}

func TestPrimaryOrMongos_PrefersPrimaryOverMongos(t *testing.T) {
	t.Parallel()

	snapshot := description.Cluster{Nodes: []description.Node{
		connected("m1:1", description.RoleMongos),
		connected("p:1", description.RolePrimary),
	}}

	node, ok := PrimaryOrMongos{}.SelectNode(snapshot)
	require.True(t, ok)
	require.Equal(t, "p:1", node.Address)
}

func TestPrimaryOrMongos_EnsureAcceptableRejectsSecondary(t *testing.T) {
	t.Parallel()

	secondary := connected("s:1", description.RoleSecondary)
	require.ErrorIs(t, PrimaryOrMongos{}.EnsureAcceptable(secondary), ErrNodeNoLongerAcceptable)

	mongos := connected("m:1", description.RoleMongos)
	require.NoError(t, PrimaryOrMongos{}.EnsureAcceptable(mongos))
}

func TestIsPrimaryLike(t *testing.T) {
	t.Parallel()

	require.True(t, IsPrimaryLike(description.Node{Role: description.RolePrimary}))
	require.True(t, IsPrimaryLike(description.Node{Role: description.RoleMongos}))
	require.False(t, IsPrimaryLike(description.Node{Role: description.RoleSecondary}))
}

func TestBound_AlwaysAccepts(t *testing.T) {
	t.Parallel()

	node := connected("m:1", description.RoleMongos)
	b := Bound{Node: node}
	selected, ok := b.SelectNode(description.Cluster{})
	require.True(t, ok)
	require.Equal(t, node, selected)
	require.NoError(t, b.EnsureAcceptable(description.Node{}))
}
