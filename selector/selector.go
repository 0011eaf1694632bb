// Package selector implements NodeSelector: a pure, side-effect-free
// predicate/policy that chooses one node from a cluster snapshot given a
// read preference.
package selector

import (
	"errors"
	"sort"

	"github.com/mongodb-labs/session-core/description"
)

// ErrNodeNoLongerAcceptable is raised by EnsureAcceptable when a
// previously-selected node has drifted out of the selector's criteria.
var ErrNodeNoLongerAcceptable = errors.New("selector: node no longer acceptable")

// NodeSelector chooses a node from a cluster snapshot and can later verify
// that a previously-chosen node is still acceptable under the same policy.
type NodeSelector interface {
	// SelectNode returns the chosen node, or ok=false if none match.
	SelectNode(snapshot description.Cluster) (node description.Node, ok bool)
	// EnsureAcceptable returns ErrNodeNoLongerAcceptable if node has
	// drifted out of this selector's criteria.
	EnsureAcceptable(node description.Node) error
}

// Primary selects the unique connected primary (a Direct cluster's
// Standalone node counts as one; see description.Cluster.Primary).
type Primary struct{}

// SelectNode implements NodeSelector.
func (Primary) SelectNode(snapshot description.Cluster) (description.Node, bool) {
	return snapshot.Primary()
}

// EnsureAcceptable implements NodeSelector.
func (Primary) EnsureAcceptable(node description.Node) error {
	if (node.Role != description.RolePrimary && node.Role != description.RoleStandalone) || node.Liveness != description.LivenessConnected {
		return ErrNodeNoLongerAcceptable
	}
	return nil
}

// PrimaryOrMongos selects the unique connected Primary, or, failing that,
// any connected Mongos. Sharded clusters have no Primary in the replica-set
// sense; a mongos router is the write-capable node a session should pin in
// its place (glossary: "Mongos ... presenting a primary-like face to the
// driver").
type PrimaryOrMongos struct{}

// SelectNode implements NodeSelector.
func (PrimaryOrMongos) SelectNode(snapshot description.Cluster) (description.Node, bool) {
	if p, ok := snapshot.Primary(); ok {
		return p, true
	}
	for _, n := range snapshot.Nodes {
		if n.Role == description.RoleMongos && n.Liveness == description.LivenessConnected {
			return n, true
		}
	}
	return description.Node{}, false
}

// EnsureAcceptable implements NodeSelector.
func (PrimaryOrMongos) EnsureAcceptable(node description.Node) error {
	if node.Liveness != description.LivenessConnected {
		return ErrNodeNoLongerAcceptable
	}
	if node.Role != description.RolePrimary && node.Role != description.RoleMongos && node.Role != description.RoleStandalone {
		return ErrNodeNoLongerAcceptable
	}
	return nil
}

// IsPrimaryLike reports whether node is a write-capable node for pinning
// purposes: a true replica-set Primary, or a Mongos router.
func IsPrimaryLike(node description.Node) bool {
	return node.Role == description.RolePrimary || node.Role == description.RoleMongos
}

// Bound always returns a supplied node and never rejects it; used once a
// Session has already pinned a node and must not re-select.
type Bound struct {
	Node description.Node
}

// SelectNode implements NodeSelector.
func (b Bound) SelectNode(description.Cluster) (description.Node, bool) {
	return b.Node, true
}

// EnsureAcceptable implements NodeSelector; a Bound selector never rejects.
func (Bound) EnsureAcceptable(description.Node) error {
	return nil
}

// ByReadPreference applies the standard read-preference selection rules
// across a heterogeneous set of node states.
type ByReadPreference struct {
	ReadPreference description.ReadPreference
}

// SelectNode implements NodeSelector.
func (s ByReadPreference) SelectNode(snapshot description.Cluster) (description.Node, bool) {
	switch s.ReadPreference.Mode {
	case description.ModePrimary:
		return snapshot.Primary()
	case description.ModeSecondary:
		return selectSecondary(snapshot, s.ReadPreference)
	case description.ModePrimaryPreferred:
		if p, ok := snapshot.Primary(); ok {
			return p, true
		}
		return selectSecondary(snapshot, s.ReadPreference)
	case description.ModeSecondaryPreferred:
		if n, ok := selectSecondary(snapshot, s.ReadPreference); ok {
			return n, true
		}
		return snapshot.Primary()
	case description.ModeNearest:
		return selectNearest(snapshot, s.ReadPreference)
	default:
		return snapshot.Primary()
	}
}

// EnsureAcceptable implements NodeSelector: the node must still be
// connected, data bearing where required by the mode, and tag-matched.
func (s ByReadPreference) EnsureAcceptable(node description.Node) error {
	if node.Liveness != description.LivenessConnected {
		return ErrNodeNoLongerAcceptable
	}

	switch s.ReadPreference.Mode {
	case description.ModePrimary:
		if node.Role != description.RolePrimary && node.Role != description.RoleStandalone {
			return ErrNodeNoLongerAcceptable
		}
	case description.ModeSecondary:
		if !isSelectableSecondary(node) || !s.ReadPreference.Match(node) {
			return ErrNodeNoLongerAcceptable
		}
	case description.ModePrimaryPreferred, description.ModeSecondaryPreferred:
		if node.Role == description.RolePrimary || node.Role == description.RoleStandalone {
			return nil
		}
		if !isSelectableSecondary(node) || !s.ReadPreference.Match(node) {
			return ErrNodeNoLongerAcceptable
		}
	case description.ModeNearest:
		if !node.IsDataBearing() || !s.ReadPreference.Match(node) {
			return ErrNodeNoLongerAcceptable
		}
	}
	return nil
}

// isSelectableSecondary reports whether node may serve as a Secondary read
// target. Arbiters are never selectable for data operations; Passive
// members are selectable as Secondary but never as Primary. Mongos routers
// present a primary-like face and are treated as an eligible Secondary
// target so Secondary, PrimaryPreferred and SecondaryPreferred behave
// sensibly against a sharded cluster (Nearest admits them through
// Node.IsDataBearing instead).
func isSelectableSecondary(node description.Node) bool {
	switch node.Role {
	case description.RoleSecondary, description.RolePassive, description.RoleMongos:
		return true
	default:
		return false
	}
}

// selectSecondary picks the least-loaded tag-matching Secondary, breaking
// ties by address lexical order. "Least loaded" is approximated by average
// measured round-trip time, the same signal Nearest uses; a node with no
// RTT sample yet sorts last.
func selectSecondary(snapshot description.Cluster, rp description.ReadPreference) (description.Node, bool) {
	var candidates []description.Node
	for _, n := range snapshot.Nodes {
		if n.Liveness != description.LivenessConnected {
			continue
		}
		if !isSelectableSecondary(n) {
			continue
		}
		if !rp.Match(n) {
			continue
		}
		candidates = append(candidates, n)
	}
	return pickLowestRTT(candidates)
}

// selectNearest picks the lowest-RTT tag-matching data-bearing node (any
// role Node.IsDataBearing accepts), breaking ties by address lexical order.
func selectNearest(snapshot description.Cluster, rp description.ReadPreference) (description.Node, bool) {
	var candidates []description.Node
	for _, n := range snapshot.Nodes {
		if n.Liveness != description.LivenessConnected {
			continue
		}
		if !n.IsDataBearing() {
			continue
		}
		if !rp.Match(n) {
			continue
		}
		candidates = append(candidates, n)
	}
	return pickLowestRTT(candidates)
}

func pickLowestRTT(candidates []description.Node) (description.Node, bool) {
	if len(candidates) == 0 {
		return description.Node{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].AverageRTT, candidates[j].AverageRTT
		if ri != rj {
			// A zero AverageRTT means no sample yet; it sorts last.
			if ri == 0 || rj == 0 {
				return rj == 0
			}
			return ri < rj
		}
		return candidates[i].Address < candidates[j].Address
	})
	return candidates[0], true
}
